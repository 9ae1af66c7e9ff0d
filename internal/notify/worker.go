package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jjudge-oj/authserver/internal/mq"
)

// Subscriber is the subset of mq.MQ used by Worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker drains queued messages into a Sender. A message that fails twice
// is dropped so a bad recipient cannot block the queue.
type Worker struct {
	subscriber Subscriber
	channel    string
	sender     Sender
	logger     *slog.Logger
}

func NewWorker(subscriber Subscriber, channel string, sender Sender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		sender:     sender,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "mail worker started", slog.String("channel", w.channel))
	return w.subscriber.Subscribe(ctx, w.channel, w.Handle)
}

// Handle delivers a single queued message.
func (w *Worker) Handle(ctx context.Context, delivery mq.Message) error {
	var msg Message
	if err := json.Unmarshal(delivery.Data, &msg); err != nil {
		w.logger.ErrorContext(ctx, "drop undecodable mail message",
			slog.String("id", delivery.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		if delivery.Redelivered {
			w.logger.ErrorContext(ctx, "drop undeliverable mail message",
				slog.String("id", delivery.ID),
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		w.logger.WarnContext(ctx, "mail delivery failed, will retry",
			slog.String("id", delivery.ID),
			slog.String("kind", string(msg.Kind)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
