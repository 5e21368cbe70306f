package postgres

var salesSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts_sale (
		id SERIAL PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		sold_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS accounts_saleitem (
		id SERIAL PRIMARY KEY,
		sale_id INTEGER NOT NULL REFERENCES accounts_sale(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL,
		quantity_sold NUMERIC(10,2) NOT NULL,
		sale_price_per_quantity NUMERIC(10,2) NOT NULL,
		total_sale_price NUMERIC(10,2) NOT NULL,
		UNIQUE (sale_id, product_id)
	);`,
	`CREATE TABLE IF NOT EXISTS accounts_profittracker (
		id SERIAL PRIMARY KEY,
		sale_id INTEGER NOT NULL UNIQUE REFERENCES accounts_sale(id) ON DELETE CASCADE,
		gross_profit NUMERIC(12,2) NOT NULL DEFAULT 0,
		net_profit NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS accounts_productreturn (
		id SERIAL PRIMARY KEY,
		saleitem_id INTEGER NOT NULL REFERENCES accounts_saleitem(id) ON DELETE CASCADE,
		sale_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		quantity_returned NUMERIC(10,2) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		returned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_productreturn_sale ON accounts_productreturn (sale_id);`,
	`CREATE TABLE IF NOT EXISTS sale_saga_commits (
		saga_id TEXT PRIMARY KEY,
		sale_id INTEGER NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
}

var productsSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts_product (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		quantity NUMERIC(12,2) NOT NULL DEFAULT 0,
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS accounts_stocktransaction (
		id SERIAL PRIMARY KEY,
		product_id INTEGER NOT NULL REFERENCES accounts_product(id),
		user_id INTEGER,
		amount_added NUMERIC(12,2) NOT NULL,
		price_per_unit NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_cost NUMERIC(14,2) NOT NULL DEFAULT 0,
		reference TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_stocktransaction_product ON accounts_stocktransaction (product_id, id DESC);`,
	`CREATE TABLE IF NOT EXISTS accounts_purchase (
		id SERIAL PRIMARY KEY,
		date DATE
	);`,
	`CREATE TABLE IF NOT EXISTS accounts_purchase_item (
		id SERIAL PRIMARY KEY,
		purchase_id INTEGER NOT NULL REFERENCES accounts_purchase(id),
		product_id INTEGER NOT NULL REFERENCES accounts_product(id),
		quantity NUMERIC(12,2) NOT NULL,
		price_per_unit NUMERIC(12,2) NOT NULL,
		total_cost NUMERIC(14,2) NOT NULL
	);`,
}
