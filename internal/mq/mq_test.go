package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/absensi-app/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingBackend struct {
	published []Message
	closed    bool
}

func (b *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.published = append(b.published, Message{ID: channel, Data: data, Attributes: attrs})
	return "id-1", nil
}

func (b *recordingBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	for _, msg := range b.published {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQDelegatesToBackend(t *testing.T) {
	backend := &recordingBackend{}
	m := New(backend)

	id, err := m.Publish(context.Background(), "attendance-events", []byte(`{}`), map[string]string{"type": "x"})
	if err != nil || id != "id-1" {
		t.Fatalf("publish: id=%q err=%v", id, err)
	}

	var seen int
	err = m.Subscribe(context.Background(), "attendance-events", func(_ context.Context, msg Message) error {
		seen++
		if msg.Attributes["type"] != "x" {
			return errors.New("missing attribute")
		}
		return nil
	})
	if err != nil || seen != 1 {
		t.Fatalf("subscribe: seen=%d err=%v", seen, err)
	}

	if err := m.Close(); err != nil || !backend.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestConnectDisabled(t *testing.T) {
	m, err := Connect(context.Background(), config.MQConfig{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil MQ when no backend is configured")
	}
}

func TestConnectUnknownBackend(t *testing.T) {
	if _, err := Connect(context.Background(), config.MQConfig{Backend: "kafka"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHeadersToAttributes(t *testing.T) {
	attrs := headersToAttributes(amqp.Table{"type": "attendance.clocked_in", "n": int32(3), "raw": []byte("b")})
	if attrs["type"] != "attendance.clocked_in" || attrs["n"] != "3" || attrs["raw"] != "b" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if headersToAttributes(nil) != nil {
		t.Fatalf("expected nil for empty headers")
	}
}

func TestNewPubSubMessageDefaultsContentType(t *testing.T) {
	attrs := map[string]string{"type": "attendance.qr_verified"}
	msg := newPubSubMessage([]byte(`{}`), attrs)

	if msg.Attributes[AttrContentType] != "application/octet-stream" {
		t.Fatalf("content type = %q", msg.Attributes[AttrContentType])
	}
	if msg.Attributes["type"] != "attendance.qr_verified" {
		t.Fatalf("type attribute lost: %v", msg.Attributes)
	}
	if _, ok := attrs[AttrContentType]; ok {
		t.Fatalf("caller attributes were mutated: %v", attrs)
	}
	if string(msg.Data) != `{}` {
		t.Fatalf("data = %q", msg.Data)
	}
}

func TestNewPubSubMessageKeepsContentType(t *testing.T) {
	msg := newPubSubMessage(nil, map[string]string{AttrContentType: "application/json"})
	if msg.Attributes[AttrContentType] != "application/json" {
		t.Fatalf("content type = %q", msg.Attributes[AttrContentType])
	}
}

func TestMessageFromPubSubSurfacesAttributes(t *testing.T) {
	published := newPubSubMessage([]byte(`{"type":"attendance.clocked_in"}`), map[string]string{
		AttrContentType: "application/json",
		"type":          "attendance.clocked_in",
	})
	published.ID = "m-1"

	msg := messageFromPubSub(published)
	if msg.ID != "m-1" || string(msg.Data) != `{"type":"attendance.clocked_in"}` {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Attributes[AttrContentType] != "application/json" || msg.Attributes["type"] != "attendance.clocked_in" {
		t.Fatalf("unexpected attributes: %v", msg.Attributes)
	}

	msg.Attributes["type"] = "changed"
	if published.Attributes["type"] != "attendance.clocked_in" {
		t.Fatalf("handler mutation leaked into the delivery")
	}

	if got := messageFromPubSub(&pubsub.Message{ID: "m-2"}); got.Attributes != nil {
		t.Fatalf("expected nil attributes, got %v", got.Attributes)
	}
}

func TestSubscriptionConfigBacksOffRedelivery(t *testing.T) {
	cfg := subscriptionConfig(nil)
	if cfg.AckDeadline != 30*time.Second {
		t.Fatalf("ack deadline = %v", cfg.AckDeadline)
	}
	if cfg.RetryPolicy == nil {
		t.Fatalf("expected a retry policy")
	}
	if cfg.RetryPolicy.MinimumBackoff != 10*time.Second || cfg.RetryPolicy.MaximumBackoff != 10*time.Minute {
		t.Fatalf("unexpected retry policy: %+v", cfg.RetryPolicy)
	}
}
