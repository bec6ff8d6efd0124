package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/metrics"
	"github.com/mahaj/livechat/pkg/model"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter persists one message of a collection.
type MessageWriter interface {
	Insert(ctx context.Context, m model.Message) error
}

type Consumer struct {
	reader  messageReader
	writers map[string]MessageWriter
	logger  *zap.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic string, groupID string, writers map[string]MessageWriter, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})

	return &Consumer{reader: r, writers: writers, logger: logger, backoff: time.Second}
}

// Consume runs until ctx is done. An offset is committed only once its
// message is stored or known to be unstorable.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("error fetching message, retrying", zap.Duration("backoff", c.backoff), zap.Error(err))
			if !c.wait(ctx) {
				return
			}
			continue
		}

		if !c.persist(ctx, m) {
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// persist retries a failed insert until it succeeds. It returns false when ctx
// ends first.
func (c *Consumer) persist(ctx context.Context, m kafka.Message) bool {
	for {
		err := c.handle(ctx, m)
		if err == nil {
			return true
		}
		c.logger.Error("failed to save message to ScyllaDB, retrying",
			zap.Int64("offset", m.Offset), zap.Duration("backoff", c.backoff), zap.Error(err))
		if !c.wait(ctx) {
			return false
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-time.After(c.backoff):
		return true
	case <-ctx.Done():
		return false
	}
}

// handle stores m. Only a failed insert is returned; messages that can never
// be stored are logged and skipped.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	collection := string(m.Key)
	writer, ok := c.writers[collection]
	if !ok {
		c.logger.Warn("skipping message for unknown collection", zap.String("collection", collection), zap.Int64("offset", m.Offset))
		return nil
	}

	var msg model.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		c.logger.Warn("failed to unmarshal message", zap.Int64("offset", m.Offset), zap.Error(err))
		metrics.MessagesPersisted.WithLabelValues("malformed").Inc()
		return nil
	}

	if err := writer.Insert(ctx, msg); err != nil {
		metrics.MessagesPersisted.WithLabelValues("error").Inc()
		return fmt.Errorf("insert message %d: %w", msg.ID, err)
	}

	metrics.MessagesPersisted.WithLabelValues("ok").Inc()
	c.logger.Debug("message saved to ScyllaDB", zap.Int64("id", msg.ID), zap.String("collection", collection))
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
