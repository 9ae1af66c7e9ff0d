package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	otpMin = 100000
	otpMax = 999999
)

// OTP is a one-time code bound to its expiry.
type OTP struct {
	Code      string
	ExpiresAt time.Time
}

// OTPGenerator produces six digit codes drawn uniformly from 100000-999999.
type OTPGenerator struct {
	random io.Reader
}

func NewOTPGenerator() *OTPGenerator {
	return &OTPGenerator{random: rand.Reader}
}

func (g *OTPGenerator) Generate(now time.Time, ttl time.Duration) (OTP, error) {
	n, err := rand.Int(g.random, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return OTP{}, fmt.Errorf("generate otp: %w", err)
	}
	return OTP{
		Code:      fmt.Sprintf("%06d", n.Int64()+otpMin),
		ExpiresAt: now.Add(ttl),
	}, nil
}
