package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authsession/pkg/database"
	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/services/auth/internal/domain"
	"github.com/utafrali/authsession/services/auth/internal/repository"
)

var _ repository.AccountRepository = (*AccountRepository)(nil)

const (
	keyPrefix = "auth:account:"

	// DefaultTxRetries bounds optimistic retries when a watched account key
	// changes between WATCH and EXEC.
	DefaultTxRetries = 5
)

// ErrTxContention is returned when UpdateRefreshTokens keeps losing the
// optimistic lock after every retry.
var ErrTxContention = errors.New("redis: too much contention on account")

// accountDoc is the stored JSON form of an account.
type accountDoc struct {
	ID            string                  `json:"id"`
	Email         string                  `json:"email"`
	PasswordHash  string                  `json:"passwordHash"`
	RefreshTokens *domain.RefreshTokenSet `json:"refreshTokens"`
	Version       int64                   `json:"version"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// AccountRepository implements repository.AccountRepository on Redis. Each
// account is one JSON document; a second key maps the email to the id.
type AccountRepository struct {
	client  redis.UniversalClient
	retries int
	now     func() time.Time
}

// NewAccountRepository creates a Redis-backed account repository. A
// non-positive retries value falls back to DefaultTxRetries.
func NewAccountRepository(client redis.UniversalClient, retries int) *AccountRepository {
	if retries <= 0 {
		retries = DefaultTxRetries
	}
	return &AccountRepository{client: client, retries: retries, now: time.Now}
}

func accountKey(id string) string { return keyPrefix + id }

func emailKey(email string) string { return keyPrefix + "email:" + email }

// Create stores a new account. The email key is claimed first with SETNX so
// two registrations for the same address cannot both succeed.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "CreateAccount", "SETNX+SET")
	defer func() { end(err) }()

	data, err := encodeAccount(a)
	if err != nil {
		return err
	}

	claimed, err := r.client.SetNX(ctx, emailKey(a.Email), a.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return domain.ErrEmailTaken
	}

	if err := r.client.Set(ctx, accountKey(a.ID), data, 0).Err(); err != nil {
		_ = r.client.Del(context.WithoutCancel(ctx), emailKey(a.Email)).Err()
		return fmt.Errorf("store account: %w", err)
	}

	a.RefreshTokens.MarkClean()
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (a *domain.Account, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "GetAccountByID", "GET")
	defer func() { end(err) }()

	return r.load(ctx, r.client, id)
}

// GetByEmail retrieves an account by its normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (a *domain.Account, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "GetAccountByEmail", "GET")
	defer func() { end(err) }()

	id, err := r.client.Get(ctx, emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("account", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}
	return r.load(ctx, r.client, id)
}

// UpdateRefreshTokens runs fn under WATCH on the account key and writes the
// token set back in MULTI/EXEC if fn changed it. A concurrent writer aborts
// the transaction and fn is run again on fresh state.
func (r *AccountRepository) UpdateRefreshTokens(ctx context.Context, id string, fn repository.UpdateFunc) (err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "UpdateRefreshTokens", "WATCH+MULTI")
	defer func() { end(err) }()

	key := accountKey(id)
	for attempt := 0; attempt < r.retries; attempt++ {
		var fnErr error

		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			account, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}

			fnErr = fn(account)
			if !account.RefreshTokens.Dirty() {
				return nil
			}

			account.Version++
			account.UpdatedAt = r.now().UTC()
			data, err := encodeAccount(account)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			account.RefreshTokens.MarkClean()
			return nil
		}, key)

		switch {
		case err == nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return ErrTxContention
}

func (r *AccountRepository) load(ctx context.Context, c redis.Cmdable, id string) (*domain.Account, error) {
	data, err := c.Get(ctx, accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return decodeAccount(data)
}

func encodeAccount(a *domain.Account) ([]byte, error) {
	data, err := json.Marshal(accountDoc{
		ID:            a.ID,
		Email:         a.Email,
		PasswordHash:  a.PasswordHash,
		RefreshTokens: &a.RefreshTokens,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return data, nil
}

func decodeAccount(data []byte) (*domain.Account, error) {
	var doc accountDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	a := &domain.Account{
		ID:           doc.ID,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if doc.RefreshTokens != nil {
		a.RefreshTokens = *doc.RefreshTokens
	}
	return a, nil
}
