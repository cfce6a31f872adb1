package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authsession/pkg/database"
	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/services/auth/internal/domain"
	"github.com/utafrali/authsession/services/auth/internal/repository"
)

var _ repository.AccountRepository = (*AccountRepository)(nil)

const accountColumns = `id, email, password_hash, refresh_tokens, version, created_at, updated_at`

// AccountRepository implements repository.AccountRepository on PostgreSQL.
// The token set lives in a JSONB column; updates lock the row with
// SELECT ... FOR UPDATE.
type AccountRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewAccountRepository creates a PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "CreateAccount", query)
	defer func() { end(err) }()

	tokens, err := json.Marshal(a.RefreshTokens)
	if err != nil {
		return fmt.Errorf("encode refresh tokens: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		a.ID,
		a.Email,
		a.PasswordHash,
		tokens,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}

	a.RefreshTokens.MarkClean()
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.get(ctx, "GetAccountByID", query, id)
}

// GetByEmail retrieves an account by its normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.get(ctx, "GetAccountByEmail", query, email)
}

func (r *AccountRepository) get(ctx context.Context, op, query, key string) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("account", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// UpdateRefreshTokens locks the account row for the duration of fn and
// writes the token set back in the same transaction if fn changed it.
func (r *AccountRepository) UpdateRefreshTokens(ctx context.Context, id string, fn repository.UpdateFunc) (err error) {
	lockQuery := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	updateQuery := `
		UPDATE accounts
		SET refresh_tokens = $1, version = version + 1, updated_at = $2
		WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "UpdateRefreshTokens", lockQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	account, err := scanAccount(tx.QueryRow(ctx, lockQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("account", id)
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	fnErr := fn(account)
	if !account.RefreshTokens.Dirty() {
		return fnErr
	}

	tokens, err := json.Marshal(account.RefreshTokens)
	if err != nil {
		return fmt.Errorf("encode refresh tokens: %w", err)
	}
	updatedAt := r.now().UTC()
	if _, err := tx.Exec(ctx, updateQuery, tokens, updatedAt, id); err != nil {
		return fmt.Errorf("update refresh tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refresh tokens: %w", err)
	}

	account.Version++
	account.UpdatedAt = updatedAt
	account.RefreshTokens.MarkClean()
	return fnErr
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a      domain.Account
		tokens []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&tokens,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokens, &a.RefreshTokens); err != nil {
		return nil, fmt.Errorf("decode refresh tokens: %w", err)
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == database.UniqueViolation
}
