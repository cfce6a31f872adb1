package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef0123"
	testRefreshSecret = "refresh-secret-0123456789abcdef012"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T) (*TokenCodec, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := NewTokenCodec(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "auth-service",
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return codec, clock
}

func testSubject() Subject {
	return Subject{AccountID: "acc-1", Email: "alice@example.com", TokenID: "tok-1"}
}

func TestNewTokenCodec_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing access secret", Config{RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"missing refresh secret", Config{AccessSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"zero access ttl", Config{AccessSecret: "a", RefreshSecret: "r", RefreshTTL: time.Hour}},
		{"negative refresh ttl", Config{AccessSecret: "a", RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: -time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenCodec(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestIssuePair_RoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	pair, err := codec.IssuePair(testSubject())
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	access, err := codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", access.AccountID)
	assert.Equal(t, "alice@example.com", access.Email)
	assert.Equal(t, "tok-1", access.TokenID)
	assert.Equal(t, TokenTypeAccess, access.Type)

	refresh, err := codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", refresh.TokenID)
	assert.Equal(t, TokenTypeRefresh, refresh.Type)
}

func TestVerify_TypeIsolation(t *testing.T) {
	codec, _ := newTestCodec(t)
	pair, err := codec.IssuePair(testSubject())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_TypeClaimCheckedEvenWithSharedSecret(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := NewTokenCodec(Config{
		AccessSecret:  "same-secret",
		RefreshSecret: "same-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, WithClock(clock.Now))
	require.NoError(t, err)

	refresh, err := codec.IssueRefresh(testSubject())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "expected access token")
}

func TestVerify_Expiry(t *testing.T) {
	codec, clock := newTestCodec(t)
	pair, err := codec.IssuePair(testSubject())
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)

	clock.Advance(7 * 24 * time.Hour)
	_, err = codec.VerifyRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsTamperedAndForeignTokens(t *testing.T) {
	codec, clock := newTestCodec(t)
	pair, err := codec.IssuePair(testSubject())
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		AccountID: "acc-1", TokenID: "tok-1", Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth-service",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		AccountID: "acc-1", TokenID: "tok-1", Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth-service",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		AccountID: "acc-1", TokenID: "tok-1", Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth-service",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		AccountID: "acc-1", TokenID: "tok-1", Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "auth-service"},
	}).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-jwt",
		"tampered":   tampered,
		"foreign":    foreign,
		"alg none":   none,
		"hs512":      hs512,
		"no expiry":  noExpiry,
		"refresh as": pair.RefreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := codec.VerifyAccess(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	codec, clock := newTestCodec(t)
	other, err := NewTokenCodec(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "someone-else",
	}, WithClock(clock.Now))
	require.NoError(t, err)

	token, err := other.IssueAccess(testSubject())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashForStorage(t *testing.T) {
	h1 := HashForStorage("token-a")
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, HashForStorage("token-a"))
	assert.NotEqual(t, h1, HashForStorage("token-b"))
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashForStorage("abc"))
}

func TestNewTokenID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTokenID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
