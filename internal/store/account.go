package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const accountColumns = `id, name, email, password_hash, role, is_verified,
		verify_otp, verify_otp_expires_at, reset_otp, reset_otp_expires_at,
		avatar, revision, created_at, updated_at`

// AccountRepository handles persistence for accounts. Every write touches
// only the columns it owns in a single statement, so concurrent operations
// on one account cannot undo each other's fields.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account       types.Account
		verifyOTP     sql.NullString
		verifyExpires sql.NullTime
		resetOTP      sql.NullString
		resetExpires  sql.NullTime
	)
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.IsVerified,
		&verifyOTP,
		&verifyExpires,
		&resetOTP,
		&resetExpires,
		&account.Avatar,
		&account.Revision,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, err
	}
	if verifyOTP.Valid && verifyExpires.Valid {
		code, expires := verifyOTP.String, verifyExpires.Time
		account.VerifyOTP = &code
		account.VerifyOTPExpiresAt = &expires
	}
	if resetOTP.Valid && resetExpires.Valid {
		code, expires := resetOTP.String, resetExpires.Time
		account.ResetOTP = &code
		account.ResetOTPExpiresAt = &expires
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.ID = uuid.NewString()
	account.Revision = 1
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (id, name, email, password_hash, role, is_verified,
			verify_otp, verify_otp_expires_at, reset_otp, reset_otp_expires_at,
			avatar, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.IsVerified,
		account.VerifyOTP,
		account.VerifyOTPExpiresAt,
		account.ResetOTP,
		account.ResetOTPExpiresAt,
		account.Avatar,
		account.Revision,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicateEmail
		}
		return types.Account{}, err
	}
	return account, nil
}

// SetVerifyOTP replaces the pending verification code. Verified accounts are
// left untouched and reported as ErrAlreadyVerified.
func (r *AccountRepository) SetVerifyOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	const query = `
		UPDATE accounts
		SET verify_otp = $1,
			verify_otp_expires_at = $2,
			revision = revision + 1,
			updated_at = $3
		WHERE id = $4 AND NOT is_verified`
	affected, err := r.exec(ctx, query, code, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyVerified
		}
		return ErrNotFound
	}
	return nil
}

// ConsumeVerifyOTP marks the account verified and clears the code pair, but
// only while code is still pending and unexpired at now.
func (r *AccountRepository) ConsumeVerifyOTP(ctx context.Context, id, code string, now time.Time) error {
	const query = `
		UPDATE accounts
		SET is_verified = TRUE,
			verify_otp = NULL,
			verify_otp_expires_at = NULL,
			revision = revision + 1,
			updated_at = $1
		WHERE id = $2 AND verify_otp = $3 AND verify_otp_expires_at >= $4`
	affected, err := r.exec(ctx, query, time.Now().UTC(), id, code, now)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCodeRejected
	}
	return nil
}

// SetResetOTP replaces the pending password reset code.
func (r *AccountRepository) SetResetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	const query = `
		UPDATE accounts
		SET reset_otp = $1,
			reset_otp_expires_at = $2,
			revision = revision + 1,
			updated_at = $3
		WHERE id = $4`
	affected, err := r.exec(ctx, query, code, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeResetOTP swaps in passwordHash and clears the reset pair, but only
// while code is still pending and unexpired at now.
func (r *AccountRepository) ConsumeResetOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error {
	const query = `
		UPDATE accounts
		SET password_hash = $1,
			reset_otp = NULL,
			reset_otp_expires_at = NULL,
			revision = revision + 1,
			updated_at = $2
		WHERE id = $3 AND reset_otp = $4 AND reset_otp_expires_at >= $5`
	affected, err := r.exec(ctx, query, passwordHash, time.Now().UTC(), id, code, now)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCodeRejected
	}
	return nil
}

// SetAvatar records the avatar object key and returns the updated account.
func (r *AccountRepository) SetAvatar(ctx context.Context, id, key string) (types.Account, error) {
	query := `
		UPDATE accounts
		SET avatar = $1,
			revision = revision + 1,
			updated_at = $2
		WHERE id = $3
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, key, time.Now().UTC(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *AccountRepository) exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
