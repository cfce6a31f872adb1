package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/services/auth/internal/domain"
	"github.com/utafrali/authsession/services/auth/internal/repository"
)

var _ repository.AccountRepository = (*AccountRepository)(nil)

// AccountRepository keeps accounts in process memory. It is meant for local
// development and tests; state is lost on restart.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byEmail  map[string]string
	locks    map[string]*sync.Mutex
	now      func() time.Time
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
		byEmail:  make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// Create stores a copy of account.
func (r *AccountRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[account.Email]; taken {
		return domain.ErrEmailTaken
	}

	stored := account.Clone()
	stored.RefreshTokens.MarkClean()
	r.accounts[account.ID] = stored
	r.byEmail[account.Email] = account.ID
	r.locks[account.ID] = &sync.Mutex{}
	account.RefreshTokens.MarkClean()
	return nil
}

// GetByID returns a copy of the account.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account", id)
	}
	return a.Clone(), nil
}

// GetByEmail returns a copy of the account registered under email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("account", email)
	}
	return r.GetByID(ctx, id)
}

// UpdateRefreshTokens serializes updates with a mutex per account.
func (r *AccountRepository) UpdateRefreshTokens(ctx context.Context, id string, fn repository.UpdateFunc) error {
	r.mu.RLock()
	lock, ok := r.locks[id]
	r.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("account", id)
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	account, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	fnErr := fn(account)
	if account.RefreshTokens.Dirty() {
		account.Version++
		account.UpdatedAt = r.now().UTC()
		account.RefreshTokens.MarkClean()

		r.mu.Lock()
		stored := r.accounts[id]
		stored.RefreshTokens = *account.RefreshTokens.Clone()
		stored.Version = account.Version
		stored.UpdatedAt = account.UpdatedAt
		r.mu.Unlock()
	}
	return fnErr
}
