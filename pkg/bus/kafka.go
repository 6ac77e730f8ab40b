package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
)

// KafkaConfig holds Kafka connection settings shared by producer and
// consumer.
type KafkaConfig struct {
	Brokers          []string
	GroupID          string
	ClientID         string
	Topics           []string
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
}

// KafkaPublisher publishes events to Kafka keyed by correlation id.
type KafkaPublisher struct {
	client *kgo.Client
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a producer-only Kafka client and verifies the
// connection.
func NewKafkaPublisher(ctx context.Context, cfg *KafkaConfig) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}

	return &KafkaPublisher{client: client}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, ev *event.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.CorrelationID),
		Value: data,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce %s to %s: %w", ev.Type, topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

// KafkaConsumer runs a handler over a consumer group subscription.
// Offsets are committed only for records whose handler returned nil, and
// rebalances are blocked while a poll is being worked off, so a partition
// cannot be handed to another group member mid-batch.
type KafkaConsumer struct {
	client  *kgo.Client
	handler Handler
	topics  []string
	stopCh  chan struct{}
	stopped sync.Once
}

var _ Consumer = (*KafkaConsumer)(nil)

// NewKafkaConsumer creates a consumer-group Kafka client for the given
// topics.
func NewKafkaConsumer(ctx context.Context, cfg *KafkaConfig, handler Handler) (*KafkaConsumer, error) {
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout == 0 {
		sessionTimeout = 30 * time.Second
	}
	rebalanceTimeout := cfg.RebalanceTimeout
	if rebalanceTimeout == 0 {
		rebalanceTimeout = 60 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ClientID(cfg.ClientID),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.SessionTimeout(sessionTimeout),
		kgo.RebalanceTimeout(rebalanceTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}

	return &KafkaConsumer{
		client:  client,
		handler: handler,
		topics:  cfg.Topics,
		stopCh:  make(chan struct{}),
	}, nil
}

// Run polls and dispatches until the context is canceled or Stop is
// called. Records within a partition are handled strictly in order; a
// handler error stops the partition's batch and rewinds the partition to
// the failed record, so it and its successors are fetched again on the
// next poll. Polling alone advances the client's fetch position even with
// auto-commit disabled, so the rewind is what makes redelivery happen.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("kafka consumer started", zap.Strings("topics", c.topics))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				if err.Err == context.Canceled {
					return nil
				}
				log.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
			}
			c.client.AllowRebalance()
			continue
		}

		var handled, failed []*kgo.Record
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				ev, err := event.Unmarshal(record.Value)
				if err != nil {
					// Malformed records cannot succeed on redelivery,
					// acknowledge and move on.
					log.Error("dropping malformed record",
						zap.String("topic", record.Topic),
						zap.Error(err))
					handled = append(handled, record)
					continue
				}

				if err := c.handler(ctx, ev); err != nil {
					log.Error("handler failed, stopping partition batch",
						zap.String("topic", record.Topic),
						zap.String("event_type", ev.Type),
						zap.String("correlation_id", ev.CorrelationID),
						zap.Error(err))
					failed = append(failed, record)
					return
				}
				handled = append(handled, record)
			}
		})

		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				log.Error("failed to commit offsets", zap.Error(err))
			}
		}
		if len(failed) > 0 {
			c.client.SetOffsets(rewindOffsets(failed))
		}
		c.client.AllowRebalance()
	}
}

// rewindOffsets maps each failed record to the position its partition
// must resume from. If a partition somehow carries several failed
// records, the earliest one wins.
func rewindOffsets(failed []*kgo.Record) map[string]map[int32]kgo.EpochOffset {
	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for _, record := range failed {
		parts := offsets[record.Topic]
		if parts == nil {
			parts = make(map[int32]kgo.EpochOffset)
			offsets[record.Topic] = parts
		}
		if cur, ok := parts[record.Partition]; !ok || record.Offset < cur.Offset {
			parts[record.Partition] = kgo.EpochOffset{
				Epoch:  record.LeaderEpoch,
				Offset: record.Offset,
			}
		}
	}
	return offsets
}

// Stop stops the consumer and closes the client.
func (c *KafkaConsumer) Stop() {
	c.stopped.Do(func() {
		close(c.stopCh)
		c.client.Close()
	})
}
