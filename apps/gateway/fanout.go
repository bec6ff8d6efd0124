package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/docstore"
	"github.com/mahaj/livechat/pkg/model"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// kafkaPublisher accepts a message once every in-sync replica has it.
type kafkaPublisher struct {
	writer     messageWriter
	collection string
}

func (p *kafkaPublisher) Publish(ctx context.Context, m model.Message) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %d: %w", m.ID, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.collection),
		Value: value,
		Time:  m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("write message %d to kafka: %w", m.ID, err)
	}
	return nil
}

// consumeFanout applies every message of the topic to collection. It returns
// nil when ctx ends and the reader error otherwise.
func consumeFanout(ctx context.Context, reader messageReader, collection *docstore.Collection, logger *zap.Logger) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway consumer: %w", err)
		}

		if string(m.Key) != collection.Name() {
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			logger.Warn("failed to unmarshal message from kafka", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}

		if collection.Apply(msg) {
			logger.Debug("message applied", zap.Int64("id", msg.ID), zap.Int64("offset", m.Offset))
		}
	}
}
