package notify

import (
	"fmt"
	"html"
	"time"
)

const layout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
%s
  </div>
</body>
</html>`

func WelcomeMessage(to, name string) Message {
	body := fmt.Sprintf(`    <h2>Welcome, %s</h2>
    <p>Your account has been created with the email %s.</p>`,
		html.EscapeString(name), html.EscapeString(to))
	return Message{
		Kind:    KindWelcome,
		To:      to,
		Subject: "Welcome",
		Body:    fmt.Sprintf(layout, body),
	}
}

func VerifyOTPMessage(to, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(`    <h2>Verify your email</h2>
    <p>Your verification code is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code is valid for %s.</p>`, code, humanizeTTL(ttl))
	return Message{
		Kind:    KindVerifyOTP,
		To:      to,
		Subject: "Account verification code",
		Body:    fmt.Sprintf(layout, body),
	}
}

func ResetOTPMessage(to, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(`    <h2>Password reset</h2>
    <p>Use this code to reset your password:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code is valid for %s. If you did not ask for a reset, ignore this email.</p>`,
		code, humanizeTTL(ttl))
	return Message{
		Kind:    KindResetOTP,
		To:      to,
		Subject: "Password reset code",
		Body:    fmt.Sprintf(layout, body),
	}
}

func PasswordChangedMessage(to string) Message {
	body := `    <h2>Password changed</h2>
    <p>The password for your account was just changed.</p>`
	return Message{
		Kind:    KindPasswordChanged,
		To:      to,
		Subject: "Your password was changed",
		Body:    fmt.Sprintf(layout, body),
	}
}

func humanizeTTL(ttl time.Duration) string {
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		hours := int(ttl / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case ttl >= time.Minute && ttl%time.Minute == 0:
		minutes := int(ttl / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return ttl.String()
	}
}
