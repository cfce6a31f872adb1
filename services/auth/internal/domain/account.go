package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmailTaken is returned by repositories when the normalized email is
// already registered.
var ErrEmailTaken = errors.New("email already registered")

// Account is a registered identity together with its refresh token state.
type Account struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"-"`
	RefreshTokens RefreshTokenSet `json:"-"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PublicAccount is the view of an account that may be sent to clients.
type PublicAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NewAccount creates an account with a fresh id and an empty token set.
// email must already be normalized.
func NewAccount(email, passwordHash string, now time.Time) *Account {
	now = now.UTC()
	return &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Public returns the client-safe view.
func (a *Account) Public() PublicAccount {
	return PublicAccount{ID: a.ID, Email: a.Email}
}

// Clone returns a deep copy. Repositories hand out clones so callers never
// share token state.
func (a *Account) Clone() *Account {
	c := *a
	c.RefreshTokens = *a.RefreshTokens.Clone()
	return &c
}

// NormalizeEmail trims and lower-cases an email address. Uniqueness is
// enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
