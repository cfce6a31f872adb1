package repository

import (
	"context"

	"github.com/utafrali/authsession/services/auth/internal/domain"
)

// UpdateFunc mutates an account's refresh token set inside an atomic update.
type UpdateFunc func(account *domain.Account) error

// AccountRepository defines account persistence. All drivers return
// apperrors.NotFound for unknown accounts and domain.ErrEmailTaken for a
// duplicate normalized email.
type AccountRepository interface {
	// Create inserts a new account together with its initial token set.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves an account by its normalized email.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// UpdateRefreshTokens loads the account with exclusive access, runs fn
	// and writes the token set back if fn modified it. The write happens even
	// when fn returns an error, and fn's error is then returned. Updates to
	// different accounts never block each other.
	UpdateRefreshTokens(ctx context.Context, id string, fn UpdateFunc) error
}
