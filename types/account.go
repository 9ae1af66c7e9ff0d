package types

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account represents a registered identity.
// It carries credentials, verification state and pending one-time codes.
type Account struct {
	// ID is the opaque identifier assigned at creation.
	ID string `db:"id"`

	// Name is the display name.
	Name string `db:"name"`

	// Email is the normalized (trimmed, lowercased) contact address.
	// It is unique across accounts.
	Email string `db:"email"`

	// PasswordHash stores the salted one-way hash of the password.
	PasswordHash string `db:"password_hash"`

	// Role is either "user" or "admin".
	Role string `db:"role"`

	// IsVerified becomes true once the email verification code is confirmed.
	IsVerified bool `db:"is_verified"`

	// VerifyOTP and VerifyOTPExpiresAt hold the pending email verification code.
	// Both are set or both are nil.
	VerifyOTP          *string    `db:"verify_otp"`
	VerifyOTPExpiresAt *time.Time `db:"verify_otp_expires_at"`

	// ResetOTP and ResetOTPExpiresAt hold the pending password reset code.
	ResetOTP          *string    `db:"reset_otp"`
	ResetOTPExpiresAt *time.Time `db:"reset_otp_expires_at"`

	// Avatar is the object storage key of the account picture, empty if unset.
	Avatar string `db:"avatar"`

	// Revision increments on every write; used for compare-and-swap updates.
	Revision int64 `db:"revision"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AccountView is the projection of an Account that is safe to expose.
type AccountView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"is_verified"`
	HasAvatar  bool      `json:"has_avatar"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// View returns the public projection of the account.
func (a Account) View() AccountView {
	return AccountView{
		ID:         a.ID,
		Name:       a.Name,
		Email:      a.Email,
		Role:       a.Role,
		IsVerified: a.IsVerified,
		HasAvatar:  a.Avatar != "",
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// ValidRole reports whether role is one of the allow-listed roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
