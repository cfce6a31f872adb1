package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification. The
// cause is wrapped for logs but callers should only ever test for this.
var ErrInvalidToken = errors.New("invalid token")

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Subject identifies who a token pair is issued to and which refresh token
// record it is linked to.
type Subject struct {
	AccountID string
	Email     string
	TokenID   string
}

// Claims is the payload carried by both token types.
type Claims struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	TokenID   string    `json:"tokenId"`
	Type      TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is an access token together with the refresh token sharing its
// token id.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Config configures a TokenCodec.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenCodec signs and verifies HS256 tokens. Access and refresh tokens use
// separate secrets and carry a type claim, so neither verifies as the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// Option configures a TokenCodec.
type Option func(*TokenCodec)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec creates a codec. Both secrets and both lifetimes are required.
func NewTokenCodec(cfg Config, opts ...Option) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token codec: access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token codec: token lifetimes must be positive")
	}

	c := &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token for s.
func (c *TokenCodec) IssueAccess(s Subject) (string, error) {
	return c.sign(s, TokenTypeAccess, c.accessSecret, c.accessTTL)
}

// IssueRefresh signs a refresh token for s.
func (c *TokenCodec) IssueRefresh(s Subject) (string, error) {
	return c.sign(s, TokenTypeRefresh, c.refreshSecret, c.refreshTTL)
}

// IssuePair signs both tokens for s.
func (c *TokenCodec) IssuePair(s Subject) (TokenPair, error) {
	access, err := c.IssueAccess(s)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.IssueRefresh(s)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks signature, expiry and type of an access token.
func (c *TokenCodec) VerifyAccess(token string) (*Claims, error) {
	return c.verify(token, TokenTypeAccess, c.accessSecret)
}

// VerifyRefresh checks signature, expiry and type of a refresh token.
func (c *TokenCodec) VerifyRefresh(token string) (*Claims, error) {
	return c.verify(token, TokenTypeRefresh, c.refreshSecret)
}

func (c *TokenCodec) sign(s Subject, typ TokenType, secret []byte, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := &Claims{
		AccountID: s.AccountID,
		Email:     s.Email,
		TokenID:   s.TokenID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.AccountID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (c *TokenCodec) verify(token string, want TokenType, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, want, claims.Type)
	}
	if claims.AccountID == "" || claims.TokenID == "" {
		return nil, fmt.Errorf("%w: missing account or token id", ErrInvalidToken)
	}
	return claims, nil
}

// HashForStorage returns the hex SHA-256 of token. Only this digest is ever
// persisted.
func HashForStorage(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewTokenID returns a random v4 UUID.
func NewTokenID() string {
	return uuid.NewString()
}
