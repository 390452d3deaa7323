// Package audit streams one record per reply cycle to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/scalytics/parley/internal/config"
)

// Record describes a finished reply cycle.
type Record struct {
	TraceID     string    `json:"trace_id"`
	Participant string    `json:"participant"`
	ChannelID   string    `json:"channel_id"`
	TriggerID   string    `json:"trigger_id"`
	Label       string    `json:"label"`
	State       string    `json:"state"`
	Sends       int       `json:"sends"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Publisher accepts cycle records.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Publish(context.Context, Record) error { return nil }
func (Nop) Close() error                          { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes records as JSON keyed by participant, so one
// participant's cycles stay ordered on a single partition.
type KafkaPublisher struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher creates an asynchronous publisher for cfg.
func NewKafkaPublisher(cfg config.AuditConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit", "topic", cfg.Topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 200 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("Audit write failed", "records", len(msgs), "error", err)
			}
		},
	}
	return &KafkaPublisher{w: w, topic: cfg.Topic, logger: logger}
}

// New returns a Kafka publisher when brokers are configured, Nop otherwise.
func New(cfg config.AuditConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled() {
		return Nop{}
	}
	return NewKafkaPublisher(cfg, logger)
}

// Publish enqueues rec.
func (p *KafkaPublisher) Publish(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.Participant),
		Value: value,
		Time:  rec.StartedAt,
		Headers: []kafka.Header{
			{Key: "trace_id", Value: []byte(rec.TraceID)},
			{Key: "state", Value: []byte(strings.ToLower(rec.State))},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Close flushes pending records.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
