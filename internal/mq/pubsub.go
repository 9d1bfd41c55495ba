package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/absensi-app/apiserver/config"
	"google.golang.org/api/option"
)

const (
	subscriptionAckDeadline = 30 * time.Second
	redeliveryMinBackoff    = 10 * time.Second
	redeliveryMaxBackoff    = 10 * time.Minute
)

// PubSubClient publishes and consumes through Google Cloud Pub/Sub. Each
// channel maps to a topic, and consumers share one subscription per channel.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string

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

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: cfg.SubscriptionSuffix,
		topics:             make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends data to the channel's topic and returns the server-assigned
// message ID. AttrContentType defaults to application/octet-stream.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, newPubSubMessage(data, attrs))
	return result.Get(ctx)
}

// Subscribe consumes the channel until ctx is done. A handler error nacks the
// message, and the subscription's retry policy spaces out the redeliveries.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, messageFromPubSub(msg)); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes pending publishes and closes the client.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for name, topic := range p.topics {
		topic.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	return p.client.Close()
}

// topic returns the cached handle for name, creating the topic if needed.
func (p *PubSubClient) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
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

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, subscriptionConfig(topic))
	}
	return sub, nil
}

func subscriptionConfig(topic *pubsub.Topic) pubsub.SubscriptionConfig {
	return pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: subscriptionAckDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: redeliveryMinBackoff,
			MaximumBackoff: redeliveryMaxBackoff,
		},
	}
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

// newPubSubMessage copies attrs so the caller's map is never mutated.
func newPubSubMessage(data []byte, attrs map[string]string) *pubsub.Message {
	attributes := make(map[string]string, len(attrs)+1)
	for key, value := range attrs {
		attributes[key] = value
	}
	if strings.TrimSpace(attributes[AttrContentType]) == "" {
		attributes[AttrContentType] = defaultContentType
	}
	return &pubsub.Message{Data: data, Attributes: attributes}
}

func messageFromPubSub(msg *pubsub.Message) Message {
	var attrs map[string]string
	if len(msg.Attributes) > 0 {
		attrs = make(map[string]string, len(msg.Attributes))
		for key, value := range msg.Attributes {
			attrs[key] = value
		}
	}
	return Message{
		ID:         msg.ID,
		Data:       msg.Data,
		Attributes: attrs,
	}
}
