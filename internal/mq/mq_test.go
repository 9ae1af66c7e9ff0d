package mq

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/jjudge-oj/authserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.MQConfig{Backend: "kafka"}); err == nil {
		t.Fatalf("expected an error for an unknown backend")
	}
}

func TestHeadersToAttributes(t *testing.T) {
	attrs := headersToAttributes(amqp.Table{
		"kind":    "verify_otp",
		"retries": int32(2),
	})
	if attrs["kind"] != "verify_otp" {
		t.Fatalf("unexpected kind %q", attrs["kind"])
	}
	if attrs["retries"] != "2" {
		t.Fatalf("unexpected retries %q", attrs["retries"])
	}
}

func TestDeadLetterPolicyClampsAttempts(t *testing.T) {
	cases := map[int]int{0: 5, 3: 5, 5: 5, 12: 12, 500: 100}
	for in, want := range cases {
		policy := deadLetterPolicy("projects/p/topics/mail-dead-letter", in)
		if policy.MaxDeliveryAttempts != want {
			t.Fatalf("attempts %d: got %d, want %d", in, policy.MaxDeliveryAttempts, want)
		}
		if policy.DeadLetterTopic != "projects/p/topics/mail-dead-letter" {
			t.Fatalf("unexpected topic %q", policy.DeadLetterTopic)
		}
	}
}

func TestPubSubRedelivered(t *testing.T) {
	first, second := 1, 2
	cases := []struct {
		attempt *int
		want    bool
	}{
		{nil, false},
		{&first, false},
		{&second, true},
	}
	for _, tc := range cases {
		if got := redelivered(&pubsub.Message{DeliveryAttempt: tc.attempt}); got != tc.want {
			t.Fatalf("attempt %v: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func newTestPubSub(t *testing.T) *PubSubClient {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	client, err := NewPubSubClient(context.Background(), config.PubSubConfig{ProjectID: "test", MaxDeliveryAttempts: 7})
	if err != nil {
		t.Fatalf("NewPubSubClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubSubSubscriptionGetsDeadLetterPolicy(t *testing.T) {
	ctx := context.Background()
	client := newTestPubSub(t)

	topic, err := client.ensureTopic(ctx, "mail")
	if err != nil {
		t.Fatalf("ensureTopic: %v", err)
	}
	deadLetter, err := client.ensureTopic(ctx, "mail"+client.deadLetterSuffix)
	if err != nil {
		t.Fatalf("ensureTopic dead letter: %v", err)
	}
	sub, err := client.ensureSubscription(ctx, client.subscriptionName("mail"), topic, deadLetter)
	if err != nil {
		t.Fatalf("ensureSubscription: %v", err)
	}

	cfg, err := sub.Config(ctx)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.DeadLetterPolicy == nil {
		t.Fatalf("expected a dead-letter policy")
	}
	if cfg.DeadLetterPolicy.DeadLetterTopic != deadLetter.String() || cfg.DeadLetterPolicy.MaxDeliveryAttempts != 7 {
		t.Fatalf("unexpected policy %+v", cfg.DeadLetterPolicy)
	}
}

func TestPubSubExistingSubscriptionIsUpgraded(t *testing.T) {
	ctx := context.Background()
	client := newTestPubSub(t)

	topic, err := client.ensureTopic(ctx, "mail")
	if err != nil {
		t.Fatalf("ensureTopic: %v", err)
	}
	name := client.subscriptionName("mail")
	if _, err := client.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: topic}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	deadLetter, err := client.ensureTopic(ctx, "mail"+client.deadLetterSuffix)
	if err != nil {
		t.Fatalf("ensureTopic dead letter: %v", err)
	}

	sub, err := client.ensureSubscription(ctx, name, topic, deadLetter)
	if err != nil {
		t.Fatalf("ensureSubscription: %v", err)
	}
	cfg, err := sub.Config(ctx)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.DeadLetterPolicy == nil || cfg.DeadLetterPolicy.DeadLetterTopic != deadLetter.String() {
		t.Fatalf("expected the policy to be added, got %+v", cfg.DeadLetterPolicy)
	}
}
