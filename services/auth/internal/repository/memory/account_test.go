package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/services/auth/internal/domain"
)

func newAccount(t *testing.T, repo *AccountRepository, email string) *domain.Account {
	t.Helper()
	a := domain.NewAccount(email, "hash", time.Now())
	require.NoError(t, a.RefreshTokens.Append(domain.RefreshTokenRecord{TokenID: "t0", HashedToken: "h0", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}

func TestCreateAndGet(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")
	assert.False(t, a.RefreshTokens.Dirty())

	byID, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Email, byID.Email)
	assert.Equal(t, 1, byID.RefreshTokens.Len())

	byEmail, err := repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byEmail.ID)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo := NewAccountRepository()
	newAccount(t, repo, "alice@example.com")

	err := repo.Create(context.Background(), domain.NewAccount("alice@example.com", "other", time.Now()))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestGet_NotFound(t *testing.T) {
	repo := NewAccountRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.GetByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGet_ReturnsCopies(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	got.RefreshTokens.Clear()

	again, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.RefreshTokens.Len())
}

func TestUpdateRefreshTokens_PersistsChanges(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")

	err := repo.UpdateRefreshTokens(context.Background(), a.ID, func(acc *domain.Account) error {
		return acc.RefreshTokens.Append(domain.RefreshTokenRecord{TokenID: "t1"})
	})
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RefreshTokens.Len())
	assert.Equal(t, a.Version+1, got.Version)
}

func TestUpdateRefreshTokens_NoChangeNoWrite(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")

	require.NoError(t, repo.UpdateRefreshTokens(context.Background(), a.ID, func(*domain.Account) error { return nil }))

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, got.Version)
}

func TestUpdateRefreshTokens_PersistsEvenWhenFnFails(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")
	boom := errors.New("replay detected")

	err := repo.UpdateRefreshTokens(context.Background(), a.ID, func(acc *domain.Account) error {
		acc.RefreshTokens.Clear()
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RefreshTokens.Len())
}

func TestUpdateRefreshTokens_UnknownAccount(t *testing.T) {
	repo := NewAccountRepository()
	called := false

	err := repo.UpdateRefreshTokens(context.Background(), "missing", func(*domain.Account) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, called)
}

func TestUpdateRefreshTokens_SerializedPerAccount(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := repo.UpdateRefreshTokens(context.Background(), a.ID, func(acc *domain.Account) error {
				// Ids derive from the current length, so a lost update
				// would surface as a duplicate.
				return acc.RefreshTokens.Append(domain.RefreshTokenRecord{TokenID: fmt.Sprintf("t%d", acc.RefreshTokens.Len())})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, got.RefreshTokens.Len())
	assert.Equal(t, a.Version+workers, got.Version)
}

func TestUpdateRefreshTokens_CanceledContext(t *testing.T) {
	repo := NewAccountRepository()
	a := newAccount(t, repo, "alice@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.UpdateRefreshTokens(ctx, a.ID, func(*domain.Account) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
