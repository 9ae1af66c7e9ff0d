package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/jjudge-oj/authserver/config"
	"google.golang.org/api/option"
)

// PubSubClient wraps the Google Cloud Pub/Sub SDK client.
type PubSubClient struct {
	client              *pubsub.Client
	subscriptionSuffix  string
	deadLetterSuffix    string
	maxDeliveryAttempts int

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	deadLetterSuffix := cfg.DeadLetterSuffix
	if deadLetterSuffix == "" {
		deadLetterSuffix = "-dead-letter"
	}

	return &PubSubClient{
		client:              client,
		subscriptionSuffix:  suffix,
		deadLetterSuffix:    deadLetterSuffix,
		maxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		topics:              make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends a message to the named topic.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Subscribe consumes messages from the named channel.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	deadLetter, err := p.ensureTopic(ctx, channel+p.deadLetterSuffix)
	if err != nil {
		return err
	}

	subscriptionName := p.subscriptionName(channel)
	sub, err := p.ensureSubscription(ctx, subscriptionName, topic, deadLetter)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:          msg.ID,
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			Redelivered: redelivered(msg),
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes pending publishes and closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}

// ensureTopic resolves a topic once per client; Topic handles batch publishes
// and must be reused rather than recreated per message.
func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}

	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, err
		}
	}
	p.topics[name] = topic
	return topic, nil
}

// ensureSubscription creates or upgrades the subscription with a dead-letter
// policy. Pub/Sub only fills in DeliveryAttempt when one is set.
func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic, deadLetter *pubsub.Topic) (*pubsub.Subscription, error) {
	policy := deadLetterPolicy(deadLetter.String(), p.maxDeliveryAttempts)

	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:            topic,
			DeadLetterPolicy: policy,
		})
	}

	current, err := sub.Config(ctx)
	if err != nil {
		return nil, err
	}
	if current.DeadLetterPolicy == nil {
		if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{DeadLetterPolicy: policy}); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Pub/Sub accepts 5 to 100 delivery attempts.
const (
	minDeliveryAttempts = 5
	maxDeliveryAttempts = 100
)

func deadLetterPolicy(topic string, attempts int) *pubsub.DeadLetterPolicy {
	if attempts < minDeliveryAttempts {
		attempts = minDeliveryAttempts
	}
	if attempts > maxDeliveryAttempts {
		attempts = maxDeliveryAttempts
	}
	return &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     topic,
		MaxDeliveryAttempts: attempts,
	}
}

func redelivered(msg *pubsub.Message) bool {
	return msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 1
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}
