package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg := LoadConfig()
	if cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("token ttl %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.VerifyOTPTTL != 24*time.Hour || cfg.Auth.ResetOTPTTL != 24*time.Hour {
		t.Fatalf("otp ttls %v %v", cfg.Auth.VerifyOTPTTL, cfg.Auth.ResetOTPTTL)
	}
	if cfg.Auth.CookieName != "token" || cfg.Auth.CookieSecure {
		t.Fatalf("cookie settings %+v", cfg.Auth)
	}
	if cfg.Auth.CollapseLoginErrors || !cfg.Auth.AllowSelfAssignedAdmin {
		t.Fatalf("hardening defaults %+v", cfg.Auth)
	}
	if cfg.MQ.PubSub.MaxDeliveryAttempts != 5 || cfg.MQ.PubSub.DeadLetterSuffix != "-dead-letter" {
		t.Fatalf("pubsub dead-letter defaults %+v", cfg.MQ.PubSub)
	}
	if cfg.Mail.Transport != "log" || cfg.Storage.Backend != "none" {
		t.Fatalf("transport defaults %q %q", cfg.Mail.Transport, cfg.Storage.Backend)
	}
	if cfg.Production() {
		t.Fatalf("test env must not be production")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "  s3cret  ")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("RESET_OTP_TTL", "-5m")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("ALLOW_SELF_ASSIGNED_ADMIN", "false")

	cfg := LoadConfig()
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("secret %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("token ttl %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.ResetOTPTTL != 24*time.Hour {
		t.Fatalf("negative ttl should fall back, got %v", cfg.Auth.ResetOTPTTL)
	}
	if cfg.ServerPort != 8080 {
		t.Fatalf("bad port should fall back, got %d", cfg.ServerPort)
	}
	if cfg.Auth.AllowSelfAssignedAdmin || !cfg.Auth.CookieSecure || !cfg.Production() {
		t.Fatalf("production overrides %+v", cfg.Auth)
	}
}
