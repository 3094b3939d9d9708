package msg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when native publishing has no brokers
var ErrNotConfigured = errors.New("native kafka producer not configured")

// Producer publishes over the Kafka wire protocol, bypassing the REST proxy
type Producer struct {
	client       *kgo.Client
	logger       *zap.Logger
	produceCount int64
	errorCount   int64
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string, logger *zap.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNotConfigured
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DisableIdempotentWrite(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("producer initialized",
		zap.Strings("brokers", brokers),
		zap.String("client_id", clientID),
	)

	return &Producer{
		client: client,
		logger: logger,
	}, nil
}

// ProduceJSON produces a JSON message to the specified topic
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, v any) error {
	if p == nil || p.client == nil {
		return ErrNotConfigured
	}

	data, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, record)
	if err := result.FirstErr(); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	atomic.AddInt64(&p.produceCount, 1)
	p.logger.Debug("produced native record",
		zap.String("topic", topic),
		zap.String("key", key),
	)
	return nil
}

// Stats returns produced and failed counts
func (p *Producer) Stats() (produced, failed int64) {
	if p == nil {
		return 0, 0
	}
	return atomic.LoadInt64(&p.produceCount), atomic.LoadInt64(&p.errorCount)
}

// Close closes the producer
func (p *Producer) Close() {
	if p != nil && p.client != nil {
		produced, failed := p.Stats()
		p.logger.Info("producer stats",
			zap.Int64("produced", produced),
			zap.Int64("errors", failed),
		)
		p.client.Close()
	}
}
