package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/front-sio/pos-api/internal/domain"
)

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS saga_journal (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		sale_id INTEGER NOT NULL DEFAULT 0,
		saleitem_id INTEGER NOT NULL DEFAULT 0,
		items TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_saga_journal_state ON saga_journal (state, updated_at);`,
}

// SQLiteJournal keeps the journal in a local file so it survives a restart
// even when the sales database is unreachable.
type SQLiteJournal struct {
	db *sqlx.DB
}

type journalRow struct {
	ID         string `db:"id"`
	Kind       string `db:"kind"`
	SaleID     int64  `db:"sale_id"`
	SaleItemID int64  `db:"saleitem_id"`
	Items      string `db:"items"`
	State      string `db:"state"`
	Attempts   int    `db:"attempts"`
	LastError  string `db:"last_error"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

const selectJournal = `SELECT id, kind, sale_id, saleitem_id, items, state, attempts, last_error, created_at, updated_at FROM saga_journal`

func OpenSQLite(path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range journalSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Begin(ctx context.Context, rec domain.SagaRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO saga_journal (id, kind, sale_id, saleitem_id, items, state, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Kind), rec.SaleID, rec.SaleItemID, string(items), string(rec.State), rec.Attempts, rec.LastError,
		rec.CreatedAt.UnixMicro(), rec.CreatedAt.UnixMicro())
	return err
}

func (j *SQLiteJournal) Mark(ctx context.Context, id string, t Transition) error {
	attempts := 0
	if t.State == domain.SagaCompensationFailed {
		attempts = 1
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE saga_journal
		SET state = ?,
			sale_id = CASE WHEN ? <> 0 THEN ? ELSE sale_id END,
			last_error = CASE WHEN ? <> '' THEN ? ELSE last_error END,
			attempts = attempts + ?,
			updated_at = ?
		WHERE id = ?
	`, string(t.State), t.SaleID, t.SaleID, errText(t.Err), errText(t.Err), attempts, time.Now().UTC().UnixMicro(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (j *SQLiteJournal) Get(ctx context.Context, id string) (*domain.SagaRecord, error) {
	var row journalRow
	if err := j.db.GetContext(ctx, &row, selectJournal+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (j *SQLiteJournal) List(ctx context.Context, state domain.SagaState, limit int) ([]domain.SagaRecord, error) {
	if limit < 1 {
		limit = -1
	}
	var rows []journalRow
	err := j.db.SelectContext(ctx, &rows, selectJournal+`
		WHERE (? = '' OR state = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, string(state), string(state), limit)
	if err != nil {
		return nil, err
	}
	return records(rows)
}

func (j *SQLiteJournal) ListOpen(ctx context.Context, cutoff time.Time) ([]domain.SagaRecord, error) {
	var rows []journalRow
	err := j.db.SelectContext(ctx, &rows, selectJournal+`
		WHERE state IN (?, ?) AND updated_at < ?
		ORDER BY created_at
	`, string(domain.SagaReserved), string(domain.SagaCompensationFailed), cutoff.UTC().UnixMicro())
	if err != nil {
		return nil, err
	}
	return records(rows)
}

func records(rows []journalRow) ([]domain.SagaRecord, error) {
	out := make([]domain.SagaRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r journalRow) record() (domain.SagaRecord, error) {
	rec := domain.SagaRecord{
		ID:         r.ID,
		Kind:       domain.SagaKind(r.Kind),
		SaleID:     r.SaleID,
		SaleItemID: r.SaleItemID,
		State:      domain.SagaState(r.State),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		CreatedAt:  time.UnixMicro(r.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMicro(r.UpdatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Items), &rec.Items); err != nil {
		return domain.SagaRecord{}, fmt.Errorf("saga %s: decode items: %w", r.ID, err)
	}
	return rec, nil
}
