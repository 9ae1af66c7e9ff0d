package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

// MemoryAccountRepository keeps accounts in process memory. Each call is
// atomic with respect to the others; it mirrors AccountRepository semantics.
type MemoryAccountRepository struct {
	mu      sync.Mutex
	byID    map[string]types.Account
	byEmail map[string]string
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]types.Account),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryAccountRepository) List(_ context.Context) ([]types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := make([]types.Account, 0, len(r.byID))
	for _, account := range r.byID {
		accounts = append(accounts, cloneAccount(account))
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (r *MemoryAccountRepository) Create(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return types.Account{}, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	account.ID = uuid.NewString()
	account.Revision = 1
	account.CreatedAt = now
	account.UpdatedAt = now

	r.byID[account.ID] = cloneAccount(account)
	r.byEmail[account.Email] = account.ID
	return account, nil
}

func (r *MemoryAccountRepository) SetVerifyOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if account.IsVerified {
		return ErrAlreadyVerified
	}
	account.VerifyOTP = &code
	account.VerifyOTPExpiresAt = &expiresAt
	r.save(account)
	return nil
}

func (r *MemoryAccountRepository) ConsumeVerifyOTP(_ context.Context, id, code string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok || !pending(account.VerifyOTP, account.VerifyOTPExpiresAt, code, now) {
		return ErrCodeRejected
	}
	account.IsVerified = true
	account.VerifyOTP = nil
	account.VerifyOTPExpiresAt = nil
	r.save(account)
	return nil
}

func (r *MemoryAccountRepository) SetResetOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	account.ResetOTP = &code
	account.ResetOTPExpiresAt = &expiresAt
	r.save(account)
	return nil
}

func (r *MemoryAccountRepository) ConsumeResetOTP(_ context.Context, id, code string, now time.Time, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok || !pending(account.ResetOTP, account.ResetOTPExpiresAt, code, now) {
		return ErrCodeRejected
	}
	account.PasswordHash = passwordHash
	account.ResetOTP = nil
	account.ResetOTPExpiresAt = nil
	r.save(account)
	return nil
}

func (r *MemoryAccountRepository) SetAvatar(_ context.Context, id, key string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	account.Avatar = key
	r.save(account)
	return cloneAccount(r.byID[id]), nil
}

// save bumps the revision and stores a private copy. r.mu must be held.
func (r *MemoryAccountRepository) save(account types.Account) {
	account.Revision++
	account.UpdatedAt = time.Now().UTC()
	r.byID[account.ID] = cloneAccount(account)
}

func (r *MemoryAccountRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, account.Email)
	return nil
}

// pending reports whether code matches the stored pair and is unexpired at now.
func pending(stored *string, expiresAt *time.Time, code string, now time.Time) bool {
	return stored != nil && expiresAt != nil && *stored == code && !now.After(*expiresAt)
}

func cloneAccount(a types.Account) types.Account {
	a.VerifyOTP = cloneString(a.VerifyOTP)
	a.VerifyOTPExpiresAt = cloneTime(a.VerifyOTPExpiresAt)
	a.ResetOTP = cloneString(a.ResetOTP)
	a.ResetOTPExpiresAt = cloneTime(a.ResetOTPExpiresAt)
	return a
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
