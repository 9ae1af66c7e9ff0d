package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jjudge-oj/authserver/types"
	"github.com/lib/pq"
)

var columnNames = []string{
	"id", "name", "email", "password_hash", "role", "is_verified",
	"verify_otp", "verify_otp_expires_at", "reset_otp", "reset_otp_expires_at",
	"avatar", "revision", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New err: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewAccountRepository(db), mock
}

func TestAccountRepositoryGetByIDScansOTPPairs(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := created.Add(24 * time.Hour)

	rows := sqlmock.NewRows(columnNames).AddRow(
		"acc-1", "Ana", "ana@x.com", "hash", "user", false,
		"123456", expires, nil, nil,
		"", int64(3), created, created,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs("acc-1").
		WillReturnRows(rows)

	account, err := repo.GetByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.VerifyOTP == nil || *account.VerifyOTP != "123456" {
		t.Fatalf("expected verify otp, got %v", account.VerifyOTP)
	}
	if account.VerifyOTPExpiresAt == nil || !account.VerifyOTPExpiresAt.Equal(expires) {
		t.Fatalf("expected verify expiry %v, got %v", expires, account.VerifyOTPExpiresAt)
	}
	if account.ResetOTP != nil || account.ResetOTPExpiresAt != nil {
		t.Fatalf("expected no reset otp, got %v %v", account.ResetOTP, account.ResetOTPExpiresAt)
	}
	if account.Revision != 3 {
		t.Fatalf("expected revision 3, got %d", account.Revision)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepositoryGetByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE email = $1")).
		WithArgs("nobody@x.com").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByEmail(context.Background(), "nobody@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryListEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at, id")).
		WillReturnRows(sqlmock.NewRows(columnNames))

	accounts, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if accounts == nil || len(accounts) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", accounts)
	}
}

func TestAccountRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	account, err := repo.Create(context.Background(), types.Account{
		Name:         "Ana",
		Email:        "ana@x.com",
		PasswordHash: "hash",
		Role:         types.RoleUser,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if account.ID == "" || account.Revision != 1 || account.CreatedAt.IsZero() {
		t.Fatalf("unexpected created account %+v", account)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepositoryCreateDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Create(context.Background(), types.Account{Email: "ana@x.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestAccountRepositorySetVerifyOTP(t *testing.T) {
	repo, mock := newMockRepo(t)
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("SET verify_otp = $1")).
		WithArgs("111111", expires, sqlmock.AnyArg(), "acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetVerifyOTP(context.Background(), "acc-1", "111111", expires); err != nil {
		t.Fatalf("SetVerifyOTP: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepositorySetVerifyOTPOnVerifiedAccount(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $4 AND NOT is_verified")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $4 AND NOT is_verified")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("acc-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := repo.SetVerifyOTP(context.Background(), "acc-1", "111111", time.Now()); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	if err := repo.SetVerifyOTP(context.Background(), "acc-2", "111111", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryConsumeVerifyOTP(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stmt := regexp.QuoteMeta("WHERE id = $2 AND verify_otp = $3 AND verify_otp_expires_at >= $4")

	mock.ExpectExec(stmt).
		WithArgs(sqlmock.AnyArg(), "acc-1", "111111", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).
		WithArgs(sqlmock.AnyArg(), "acc-1", "111111", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ConsumeVerifyOTP(context.Background(), "acc-1", "111111", now); err != nil {
		t.Fatalf("ConsumeVerifyOTP: %v", err)
	}
	if err := repo.ConsumeVerifyOTP(context.Background(), "acc-1", "111111", now); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected ErrCodeRejected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepositorySetResetOTPMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("SET reset_otp = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SetResetOTP(context.Background(), "acc-1", "222222", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryConsumeResetOTP(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stmt := regexp.QuoteMeta("WHERE id = $3 AND reset_otp = $4 AND reset_otp_expires_at >= $5")

	mock.ExpectExec(stmt).
		WithArgs("new-hash", sqlmock.AnyArg(), "acc-1", "222222", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).
		WithArgs("other-hash", sqlmock.AnyArg(), "acc-1", "222222", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ConsumeResetOTP(context.Background(), "acc-1", "222222", now, "new-hash"); err != nil {
		t.Fatalf("ConsumeResetOTP: %v", err)
	}
	if err := repo.ConsumeResetOTP(context.Background(), "acc-1", "222222", now, "other-hash"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected ErrCodeRejected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepositorySetAvatar(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SET avatar = $1")).
		WithArgs("avatars/acc-1", sqlmock.AnyArg(), "acc-1").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			"acc-1", "Ana", "ana@x.com", "hash", "user", true,
			nil, nil, nil, nil,
			"avatars/acc-1", int64(2), created, created,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SET avatar = $1")).
		WithArgs("avatars/acc-2", sqlmock.AnyArg(), "acc-2").
		WillReturnError(sql.ErrNoRows)

	account, err := repo.SetAvatar(context.Background(), "acc-1", "avatars/acc-1")
	if err != nil {
		t.Fatalf("SetAvatar: %v", err)
	}
	if account.Avatar != "avatars/acc-1" || account.Revision != 2 {
		t.Fatalf("unexpected account %+v", account)
	}
	if _, err := repo.SetAvatar(context.Background(), "acc-2", "avatars/acc-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM accounts WHERE id = $1")).
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM accounts WHERE id = $1")).
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(context.Background(), "acc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
