package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/notify"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

const (
	minNameLength     = 2
	maxNameLength     = 30
	minPasswordLength = 6
	maxPasswordBytes  = 72 // bcrypt input limit
	maxAvatarBytes    = 2 << 20
	avatarKeyPrefix   = "avatars/"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

var avatarContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// AccountRepository defines persistence operations for accounts. Each write
// is atomic and touches only the fields it names; the Consume methods return
// store.ErrCodeRejected unless code is pending and unexpired at now.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	List(ctx context.Context) ([]types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	SetVerifyOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	ConsumeVerifyOTP(ctx context.Context, id, code string, now time.Time) error
	SetResetOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	ConsumeResetOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error
	SetAvatar(ctx context.Context, id, key string) (types.Account, error)
	Delete(ctx context.Context, id string) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer issues and verifies session tokens.
type TokenIssuer interface {
	Issue(accountID, role string) (string, auth.Session, error)
	Parse(token string) (auth.Session, error)
}

// CodeGenerator produces one-time codes.
type CodeGenerator interface {
	Generate(now time.Time, ttl time.Duration) (auth.OTP, error)
}

// AvatarStore persists account pictures.
type AvatarStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// AccountConfig tunes AccountService behavior.
type AccountConfig struct {
	VerifyOTPTTL           time.Duration
	ResetOTPTTL            time.Duration
	AllowSelfAssignedAdmin bool
}

// AccountDeps are the collaborators of AccountService. Avatars may be nil
// when object storage is disabled; Logger and Now default when nil.
type AccountDeps struct {
	Repo    AccountRepository
	Hasher  PasswordHasher
	Tokens  TokenIssuer
	Codes   CodeGenerator
	Sender  notify.Sender
	Avatars AvatarStore
	Logger  *slog.Logger
	Now     func() time.Time
}

// AccountService implements the account lifecycle: registration, login,
// email verification and password recovery.
type AccountService struct {
	repo    AccountRepository
	hasher  PasswordHasher
	tokens  TokenIssuer
	codes   CodeGenerator
	sender  notify.Sender
	avatars AvatarStore
	logger  *slog.Logger
	now     func() time.Time
	cfg     AccountConfig
}

func NewAccountService(deps AccountDeps, cfg AccountConfig) *AccountService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.VerifyOTPTTL <= 0 {
		cfg.VerifyOTPTTL = 24 * time.Hour
	}
	if cfg.ResetOTPTTL <= 0 {
		cfg.ResetOTPTTL = 24 * time.Hour
	}
	return &AccountService{
		repo:    deps.Repo,
		hasher:  deps.Hasher,
		tokens:  deps.Tokens,
		codes:   deps.Codes,
		sender:  deps.Sender,
		avatars: deps.Avatars,
		logger:  deps.Logger,
		now:     deps.Now,
		cfg:     cfg,
	}
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// AuthResult is returned by operations that open a session.
type AuthResult struct {
	Account types.AccountView
	Token   string
	Session auth.Session
}

// Register creates an unverified account and opens a session for it.
// caller is the session of the requester, nil for anonymous requests.
func (s *AccountService) Register(ctx context.Context, in RegisterInput, caller *auth.Session) (AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return AuthResult{}, badRequest("name, email and password are required")
	}
	if err := validateName(name); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return AuthResult{}, err
	}

	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !types.ValidRole(role) {
		role = types.RoleUser
	}
	if role == types.RoleAdmin && !s.cfg.AllowSelfAssignedAdmin {
		if caller == nil || caller.Role != types.RoleAdmin {
			return AuthResult{}, fmt.Errorf("%w: admin accounts can only be created by an admin", ErrForbidden)
		}
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return AuthResult{}, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, storeError(err, "account")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.repo.Create(ctx, types.Account{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsVerified:   false,
	})
	if err != nil {
		return AuthResult{}, storeError(err, "account")
	}

	result, err := s.openSession(account)
	if err != nil {
		return AuthResult{}, err
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("role", account.Role),
	)
	s.notify(ctx, notify.WelcomeMessage(account.Email, account.Name))
	return result, nil
}

// Login verifies credentials and opens a fresh session. Earlier sessions of
// the same account stay valid.
func (s *AccountService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, badRequest("email and password are required")
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		err = storeError(err, "account")
		if errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "login failed", slog.String("reason", "not_found"))
		}
		return AuthResult{}, err
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.WarnContext(ctx, "login failed",
				slog.String("reason", "bad_password"),
				slog.String("account_id", account.ID),
			)
			return AuthResult{}, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return AuthResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result, err := s.openSession(account)
	if err != nil {
		return AuthResult{}, err
	}
	s.logger.InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))
	return result, nil
}

// Logout ends the caller's session. Tokens are stateless so there is nothing
// to revoke server side; it always succeeds.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	if session, err := s.tokens.Parse(token); err == nil {
		s.logger.InfoContext(ctx, "account logged out", slog.String("account_id", session.AccountID))
	}
	return nil
}

// Authenticate verifies a session token without touching the store.
func (s *AccountService) Authenticate(token string) (auth.Session, error) {
	if strings.TrimSpace(token) == "" {
		return auth.Session{}, fmt.Errorf("%w: missing session", ErrUnauthorized)
	}
	session, err := s.tokens.Parse(token)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return session, nil
}

// CheckAuth returns the account behind a verified session. A session whose
// account no longer exists is unauthorized.
func (s *AccountService) CheckAuth(ctx context.Context, session auth.Session) (types.AccountView, error) {
	if session.AccountID == "" {
		return types.AccountView{}, fmt.Errorf("%w: missing session", ErrUnauthorized)
	}
	account, err := s.repo.GetByID(ctx, session.AccountID)
	if err != nil {
		err = storeError(err, "account")
		if errors.Is(err, ErrNotFound) {
			return types.AccountView{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return types.AccountView{}, err
	}
	return account.View(), nil
}

// RequestEmailVerification issues a new verification code, replacing any
// pending one, and mails it to the account.
func (s *AccountService) RequestEmailVerification(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return badRequest("account id is required")
	}
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err, "account")
	}
	if account.IsVerified {
		return fmt.Errorf("%w: email is already verified", ErrAlreadyVerified)
	}

	otp, err := s.codes.Generate(s.now(), s.cfg.VerifyOTPTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.repo.SetVerifyOTP(ctx, account.ID, otp.Code, otp.ExpiresAt); err != nil {
		return storeError(err, "account")
	}

	s.logger.InfoContext(ctx, "verification code issued", slog.String("account_id", account.ID))
	s.notify(ctx, notify.VerifyOTPMessage(account.Email, otp.Code, s.cfg.VerifyOTPTTL))
	return nil
}

// ConfirmEmailVerification marks the account verified when code matches the
// pending verification code. The code is consumed on success.
func (s *AccountService) ConfirmEmailVerification(ctx context.Context, accountID, code string) error {
	if strings.TrimSpace(accountID) == "" || code == "" {
		return badRequest("account id and code are required")
	}
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err, "account")
	}
	now := s.now()
	if err := checkCode(account.VerifyOTP, account.VerifyOTPExpiresAt, code, now); err != nil {
		return err
	}

	if err := s.repo.ConsumeVerifyOTP(ctx, account.ID, code, now); err != nil {
		if !errors.Is(err, store.ErrCodeRejected) {
			return storeError(err, "account")
		}
		// Lost a race with another confirm or a new code; classify against
		// the current record.
		current, err := s.repo.GetByID(ctx, account.ID)
		if err != nil {
			return storeError(err, "account")
		}
		return rejectedCode(current.VerifyOTP, current.VerifyOTPExpiresAt, code, now)
	}

	s.logger.InfoContext(ctx, "email verified", slog.String("account_id", account.ID))
	return nil
}

// RequestPasswordReset issues a new reset code for the account registered
// under email. Verification state does not matter.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return badRequest("email is required")
	}
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return storeError(err, "account")
	}

	otp, err := s.codes.Generate(s.now(), s.cfg.ResetOTPTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.repo.SetResetOTP(ctx, account.ID, otp.Code, otp.ExpiresAt); err != nil {
		return storeError(err, "account")
	}

	s.logger.InfoContext(ctx, "reset code issued", slog.String("account_id", account.ID))
	s.notify(ctx, notify.ResetOTPMessage(account.Email, otp.Code, s.cfg.ResetOTPTTL))
	return nil
}

// ConfirmPasswordReset replaces the password when code matches the pending
// reset code. Existing sessions are left untouched.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	if email == "" || code == "" || newPassword == "" {
		return badRequest("email, code and new password are required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return storeError(err, "account")
	}
	now := s.now()
	if err := checkCode(account.ResetOTP, account.ResetOTPExpiresAt, code, now); err != nil {
		return err
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.ConsumeResetOTP(ctx, account.ID, code, now, hash); err != nil {
		if !errors.Is(err, store.ErrCodeRejected) {
			return storeError(err, "account")
		}
		current, err := s.repo.GetByID(ctx, account.ID)
		if err != nil {
			return storeError(err, "account")
		}
		return rejectedCode(current.ResetOTP, current.ResetOTPExpiresAt, code, now)
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("account_id", account.ID))
	s.notify(ctx, notify.PasswordChangedMessage(account.Email))
	return nil
}

func (s *AccountService) List(ctx context.Context) ([]types.AccountView, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, storeError(err, "accounts")
	}
	views := make([]types.AccountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, account.View())
	}
	return views, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (types.AccountView, error) {
	if strings.TrimSpace(id) == "" {
		return types.AccountView{}, badRequest("account id is required")
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.AccountView{}, storeError(err, "account")
	}
	return account.View(), nil
}

// Delete permanently removes the account. The avatar object is removed
// best-effort afterwards.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return badRequest("account id is required")
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return storeError(err, "account")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeError(err, "account")
	}

	if account.Avatar != "" && s.avatars != nil {
		if err := s.avatars.Delete(ctx, account.Avatar); err != nil {
			s.logger.WarnContext(ctx, "delete avatar failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "account deleted", slog.String("account_id", id))
	return nil
}

// SetAvatar stores a new account picture and records its key.
func (s *AccountService) SetAvatar(ctx context.Context, accountID string, r io.Reader, size int64, contentType string) (types.AccountView, error) {
	if s.avatars == nil {
		return types.AccountView{}, fmt.Errorf("%w: avatar storage is not configured", ErrUnavailable)
	}
	if strings.TrimSpace(accountID) == "" {
		return types.AccountView{}, badRequest("account id is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !avatarContentTypes[contentType] {
		return types.AccountView{}, badRequest("avatar must be a png, jpeg, gif or webp image")
	}
	if size <= 0 || size > maxAvatarBytes {
		return types.AccountView{}, badRequest("avatar must be between 1 byte and 2 MiB")
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return types.AccountView{}, storeError(err, "account")
	}

	key := avatarKeyPrefix + account.ID
	if err := s.avatars.Put(ctx, key, r, size, contentType); err != nil {
		return types.AccountView{}, fmt.Errorf("%w: store avatar: %v", ErrUnavailable, err)
	}
	updated, err := s.repo.SetAvatar(ctx, account.ID, key)
	if err != nil {
		return types.AccountView{}, storeError(err, "account")
	}
	return updated.View(), nil
}

// GetAvatar opens the account picture. The caller closes the reader.
func (s *AccountService) GetAvatar(ctx context.Context, accountID string) (io.ReadCloser, storage.ObjectInfo, error) {
	if s.avatars == nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: avatar storage is not configured", ErrUnavailable)
	}
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, storage.ObjectInfo{}, storeError(err, "account")
	}
	if account.Avatar == "" {
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: account has no avatar", ErrNotFound)
	}
	reader, info, err := s.avatars.Get(ctx, account.Avatar)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, fmt.Errorf("%w: avatar object missing", ErrNotFound)
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: load avatar: %v", ErrUnavailable, err)
	}
	return reader, info, nil
}

func (s *AccountService) openSession(account types.Account) (AuthResult, error) {
	token, session, err := s.tokens.Issue(account.ID, account.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: issue token: %v", ErrUnavailable, err)
	}
	return AuthResult{Account: account.View(), Token: token, Session: session}, nil
}

func (s *AccountService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", badRequest("password must be at most 72 bytes")
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return hash, nil
}

// checkCode validates a supplied code against a pending code/expiry pair.
// A mismatch is reported before expiry so wrong guesses learn nothing.
func checkCode(pending *string, expiresAt *time.Time, code string, now time.Time) error {
	if pending == nil || *pending == "" || expiresAt == nil {
		return fmt.Errorf("%w: no code pending", ErrInvalidCode)
	}
	if subtle.ConstantTimeCompare([]byte(*pending), []byte(code)) != 1 {
		return fmt.Errorf("%w: code does not match", ErrInvalidCode)
	}
	if now.After(*expiresAt) {
		return fmt.Errorf("%w: code expired", ErrExpired)
	}
	return nil
}

// rejectedCode explains why the store refused to consume code. A pair that
// still checks out was consumed and reissued in between, which the caller
// sees as a stale code.
func rejectedCode(pending *string, expiresAt *time.Time, code string, now time.Time) error {
	if err := checkCode(pending, expiresAt, code, now); err != nil {
		return err
	}
	return fmt.Errorf("%w: code already used", ErrInvalidCode)
}

// notify sends msg and logs failures. The state change it follows has
// already been committed.
func (s *AccountService) notify(ctx context.Context, msg notify.Message) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("kind", string(msg.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return badRequest("name must be between 2 and 30 characters")
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return badRequest("name contains non-printable characters")
		}
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return badRequest("invalid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return badRequest("password must be at least 6 characters")
	}
	if len(password) > maxPasswordBytes {
		return badRequest("password must be at most 72 bytes")
	}
	return nil
}
