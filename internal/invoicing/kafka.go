package invoicing

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/front-sio/pos-api/internal/domain"
)

const EventInvoiceRequested = "invoice.requested"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaIssuer publishes invoice requests for an asynchronous invoicing consumer.
type KafkaIssuer struct {
	writer messageWriter
}

type invoiceEvent struct {
	Type        string               `json:"type"`
	SaleID      int64                `json:"sale_id"`
	CustomerID  int64                `json:"customer_id"`
	TotalAmount string               `json:"total_amount"`
	PaidAmount  string               `json:"paid_amount"`
	Status      domain.InvoiceStatus `json:"status"`
	RequestedAt time.Time            `json:"requested_at"`
}

func NewKafkaIssuer(brokers []string, topic string) *KafkaIssuer {
	return &KafkaIssuer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (k *KafkaIssuer) Issue(ctx context.Context, req domain.InvoiceRequest) (string, error) {
	payload, err := json.Marshal(invoiceEvent{
		Type:        EventInvoiceRequested,
		SaleID:      req.SaleID,
		CustomerID:  req.CustomerID,
		TotalAmount: money(req.TotalAmount),
		PaidAmount:  money(req.PaidAmount),
		Status:      req.Status,
		RequestedAt: req.RequestedAt,
	})
	if err != nil {
		return "", err
	}

	carrier := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := kafka.Message{
		Key:     []byte(strconv.FormatInt(req.SaleID, 10)),
		Value:   payload,
		Headers: carrier.headers(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return "", err
	}
	return "", nil
}

func (k *KafkaIssuer) Close() error {
	return k.writer.Close()
}

// headerCarrier adapts kafka headers to the otel propagation carrier.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string { return c[key] }

func (c headerCarrier) Set(key string, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func (c headerCarrier) headers() []kafka.Header {
	out := make([]kafka.Header, 0, len(c))
	for k, v := range c {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
