package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// topicFor maps a channel namespace to a Kafka topic.
//
//	"notification" → "{prefix}-notification"
//	"chat:room"    → "{prefix}-chat-room"
func (k *KafkaPubSub) topicFor(namespace string) string {
	name := strings.ReplaceAll(namespace, ":", "-")
	if k.config.TopicPrefix == "" {
		return name
	}
	return k.config.TopicPrefix + "-" + name
}

// channelToTopicAndKey converts a channel to a Kafka topic and message key.
// The key is the channel topic, so a receiver or a room always lands on the
// same partition and keeps its order.
func (k *KafkaPubSub) channelToTopicAndKey(channel string) (topic, key string, err error) {
	namespace, key, err := ParseChannel(channel)
	if err != nil {
		return "", "", err
	}
	return k.topicFor(namespace), key, nil
}

// kafkaSubscription tracks a single consumer subscription.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaPubSub implements PubSub interface using Apache Kafka.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription // key (channel or pattern) → subscription
	config        KafkaConfig
	bufferSize    int
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig, bufferSize int) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		bufferSize:    bufferSize,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopics(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return kps, nil
}

// ensureTopics creates the namespace topics if they don't exist.
func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 8
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	specs := make([]kafka.TopicSpecification, 0, 2)
	for _, ns := range []string{NamespaceNotification, NamespaceChatRoom} {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             k.topicFor(ns),
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := log.L()
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Err(r.Error).Msg("failed to create kafka topic")
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (k *KafkaPubSub) deliveryReportHandler() {
	l := log.L()
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Error().Err(ev.TopicPartition.Error).Str("key", string(ev.Key)).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish publishes an event to the specified channel. It returns once the
// broker acknowledged the message or ctx is done.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := k.channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes to a specific channel, filtering messages by key.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := k.channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	return k.subscribeToTopic(ctx, channel, topic, key)
}

// SubscribePattern subscribes to every channel of a namespace.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	namespace, err := ParsePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}

	return k.subscribeToTopic(ctx, pattern, k.topicFor(namespace), "")
}

// subscribeToTopic creates a consumer for a topic, optionally filtering by key.
func (k *KafkaPubSub) subscribeToTopic(ctx context.Context, subKey, topic, filterKey string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.subscriptions[subKey]; ok {
		k.stopLocked(subKey, existing)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "naildp-realtime"
	}

	// Every process fans out to its own connections, so each needs its own
	// consumer group to see the whole topic.
	consumerGroupID := fmt.Sprintf("%s-%s", groupID, sanitizeGroupID(subKey))
	if k.config.InstanceID != "" {
		consumerGroupID = fmt.Sprintf("%s-%s", consumerGroupID, k.config.InstanceID)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, k.bufferSize)
	sub := &kafkaSubscription{
		consumer: c,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	k.subscriptions[subKey] = sub

	go k.consumeMessages(subCtx, sub, eventCh, filterKey)

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards events to the channel.
func (k *KafkaPubSub) consumeMessages(ctx context.Context, sub *kafkaSubscription, eventCh chan<- *Event, filterKey string) {
	defer close(sub.done)
	defer close(eventCh)

	l := log.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if filterKey != "" && string(e.Key) != filterKey {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("dropping malformed kafka event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(log.FieldEventID, event.ID).Msg("subscriber buffer full, event dropped")
			}

		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}

		default:
			// Offsets committed, partition events and the like.
		}
	}
}

// stopLocked cancels the poll loop, waits for it to exit and closes the consumer.
func (k *KafkaPubSub) stopLocked(key string, sub *kafkaSubscription) error {
	sub.cancel()
	<-sub.done
	delete(k.subscriptions, key)
	return sub.consumer.Close()
}

// Unsubscribe unsubscribes from a channel or pattern.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[channel]; ok {
		if err := k.stopLocked(channel, sub); err != nil {
			return fmt.Errorf("failed to close consumer: %w", err)
		}
	}

	return nil
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, sub := range k.subscriptions {
		k.stopLocked(key, sub)
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
