package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/services/auth/internal/domain"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*AccountRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewAccountRepository(client, 0)
	repo.now = func() time.Time { return testNow.Add(time.Minute) }
	return repo, mr
}

func newAccount(t *testing.T, id, email string) *domain.Account {
	t.Helper()
	a := domain.NewAccount(email, "$2a$12$hash", testNow)
	a.ID = id
	require.NoError(t, a.RefreshTokens.Append(domain.RefreshTokenRecord{
		TokenID:     "tok-1",
		HashedToken: "digest-1",
		ExpiresAt:   testNow.Add(7 * 24 * time.Hour),
		CreatedAt:   testNow,
	}))
	return a
}

func TestNewAccountRepository_DefaultRetries(t *testing.T) {
	assert.Equal(t, DefaultTxRetries, NewAccountRepository(nil, -1).retries)
	assert.Equal(t, 2, NewAccountRepository(nil, 2).retries)
}

func TestCreateAndGet(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	a := newAccount(t, "acc-1", "alice@example.com")

	require.NoError(t, repo.Create(ctx, a))
	assert.False(t, a.RefreshTokens.Dirty())

	id, err := mr.Get("auth:account:email:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)
	assert.True(t, mr.Exists("auth:account:acc-1"))

	byID, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)
	assert.Equal(t, "$2a$12$hash", byID.PasswordHash)
	assert.Equal(t, 1, byID.RefreshTokens.Len())
	assert.True(t, byID.CreatedAt.Equal(testNow))

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byEmail.ID)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAccount(t, "acc-1", "alice@example.com")))
	err := repo.Create(ctx, newAccount(t, "acc-2", "alice@example.com"))

	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.False(t, mr.Exists("auth:account:acc-2"))
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGet_CorruptDocument(t *testing.T) {
	repo, mr := newTestRepo(t)
	require.NoError(t, mr.Set("auth:account:bad", "{oops"))

	_, err := repo.GetByID(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode account")
}

func TestUpdateRefreshTokens_PersistsChanges(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount(t, "acc-1", "alice@example.com")))

	err := repo.UpdateRefreshTokens(ctx, "acc-1", func(a *domain.Account) error {
		a.RefreshTokens.Remove("tok-1")
		return a.RefreshTokens.Append(domain.RefreshTokenRecord{TokenID: "tok-2", HashedToken: "digest-2"})
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	_, old := got.RefreshTokens.FindByID("tok-1")
	_, fresh := got.RefreshTokens.FindByID("tok-2")
	assert.False(t, old)
	assert.True(t, fresh)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.UpdatedAt.Equal(testNow.Add(time.Minute)))
}

func TestUpdateRefreshTokens_NoChangeNoWrite(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount(t, "acc-1", "alice@example.com")))

	require.NoError(t, repo.UpdateRefreshTokens(ctx, "acc-1", func(*domain.Account) error { return nil }))

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateRefreshTokens_PersistsWhenFnFails(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newAccount(t, "acc-1", "alice@example.com")))
	replay := errors.New("replay")

	err := repo.UpdateRefreshTokens(ctx, "acc-1", func(a *domain.Account) error {
		a.RefreshTokens.Clear()
		return replay
	})
	assert.ErrorIs(t, err, replay)

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RefreshTokens.Len())
}

func TestUpdateRefreshTokens_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	called := false

	err := repo.UpdateRefreshTokens(context.Background(), "missing", func(*domain.Account) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, called)
}

func TestUpdateRefreshTokens_ConcurrentUpdatesAllApply(t *testing.T) {
	repo, _ := newTestRepo(t)
	repo.retries = 100
	ctx := context.Background()
	a := newAccount(t, "acc-1", "alice@example.com")
	a.RefreshTokens.Clear()
	require.NoError(t, repo.Create(ctx, a))

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.UpdateRefreshTokens(ctx, "acc-1", func(a *domain.Account) error {
				return a.RefreshTokens.Append(domain.RefreshTokenRecord{TokenID: fmt.Sprintf("w%d", i)})
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.RefreshTokens.Len())
}

func TestUpdateRefreshTokens_ServerDown(t *testing.T) {
	repo, mr := newTestRepo(t)
	mr.Close()

	err := repo.UpdateRefreshTokens(context.Background(), "acc-1", func(*domain.Account) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}
