// Package notify publishes block-committed and block-reorged events to
// Kafka, the supplemented notification feature of SPEC_FULL.md §2 (a
// modern analogue of original_source/lincoln/notifier.py's in-process
// callback). It is adapted from internal/messaging/kafka.go's consumer
// wiring, turned into a fire-and-forget producer: nothing downstream of
// the core indexer depends on delivery succeeding, so publish errors are
// logged and swallowed rather than bubbled into the block-processing
// transaction.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config mirrors notify.* config keys: brokers plus the topic events are
// published to. Enabled mirrors notify.enabled; when it is false, New
// returns a no-op Publisher.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type Event struct {
	Type      string    `json:"type"` // "block.committed" | "block.reorged"
	Height    int64     `json:"height"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes Events. A nil *kafka.Writer (Config.Enabled=false)
// makes every BlockCommitted/BlockReorged call a no-op.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Publisher {
	if !cfg.Enabled {
		return &Publisher{logger: logger}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) BlockCommitted(ctx context.Context, height int64, hash string) {
	p.publish(ctx, Event{Type: "block.committed", Height: height, Hash: hash, Timestamp: time.Now()})
}

func (p *Publisher) BlockReorged(ctx context.Context, height int64, hash string) {
	p.publish(ctx, Event{Type: "block.reorged", Height: height, Hash: hash, Timestamp: time.Now()})
}

func (p *Publisher) publish(ctx context.Context, ev Event) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("notify: marshal event", zap.Error(err), zap.String("type", ev.Type))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Hash),
		Value: body,
	})
	if err != nil {
		p.logger.Warn("notify: publish event failed", zap.Error(err), zap.String("type", ev.Type), zap.Int64("height", ev.Height))
	}
}
