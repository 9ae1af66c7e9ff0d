// Package notify delivers account notifications by email, either directly
// over SMTP or through a message queue drained by Worker.
package notify

import "context"

// Kind identifies the purpose of a notification.
type Kind string

const (
	KindWelcome         Kind = "welcome"
	KindVerifyOTP       Kind = "verify_otp"
	KindResetOTP        Kind = "reset_otp"
	KindPasswordChanged Kind = "password_changed"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender delivers a message to its recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
