package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTokenServiceIssueAndParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewTokenService("test-secret", 7*24*time.Hour)
	svc.now = fixedClock(now)

	token, issued, err := svc.Issue("acc-1", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", token)
	}
	if !issued.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}

	session, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if session.AccountID != "acc-1" || session.Role != "admin" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.IssuedAt.Equal(issued.IssuedAt) || !session.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("parsed times %+v differ from issued %+v", session, issued)
	}
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewTokenService("test-secret", time.Hour)
	svc.now = fixedClock(now)

	token, _, err := svc.Issue("acc-1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = fixedClock(now.Add(2 * time.Hour))
	if _, err := svc.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenServiceRejectsForeignSignature(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	token, _, err := issuer.Issue("acc-1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenServiceRejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := svc.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestTokenServiceRequiresSubjectAndExpiry(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "user",
	})
	signed, err := noSubject.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without subject, got %v", err)
	}

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acc-1"},
		Role:             "user",
	})
	signed, err = noExpiry.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without expiry, got %v", err)
	}
}
