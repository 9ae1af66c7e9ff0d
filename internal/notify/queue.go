package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jjudge-oj/authserver/internal/mq"
)

// Publisher is the subset of mq.MQ used to enqueue messages.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueSender enqueues messages for asynchronous delivery by Worker.
type QueueSender struct {
	publisher Publisher
	channel   string
}

func NewQueueSender(publisher Publisher, channel string) *QueueSender {
	return &QueueSender{publisher: publisher, channel: channel}
}

func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	attrs := map[string]string{
		mq.AttrContentType: "application/json",
		"kind":             string(msg.Kind),
	}
	if _, err := s.publisher.Publish(ctx, s.channel, data, attrs); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// LogSender only records that a message would have been sent. The body is
// never logged since it may carry a one-time code.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email suppressed",
		slog.String("to", msg.To),
		slog.String("kind", string(msg.Kind)),
		slog.String("subject", msg.Subject),
	)
	return nil
}
