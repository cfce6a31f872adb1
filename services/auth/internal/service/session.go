package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/pkg/logger"
	"github.com/utafrali/authsession/services/auth/internal/auth"
	"github.com/utafrali/authsession/services/auth/internal/domain"
	"github.com/utafrali/authsession/services/auth/internal/event"
	"github.com/utafrali/authsession/services/auth/internal/password"
	"github.com/utafrali/authsession/services/auth/internal/repository"
)

const tracerName = "github.com/utafrali/authsession/services/auth/internal/service"

// Client-facing messages.
const (
	MsgEmailInUse         = "Email is already in use."
	MsgInvalidCredentials = "Invalid email or password."
	MsgRefreshFailed      = "Unable to refresh session."
	MsgSessionExpired     = "Session has expired."
)

// ReusePolicy decides what happens when a verified refresh token matches no
// stored record.
type ReusePolicy string

const (
	// ReuseRevokeAll clears every refresh token of the account.
	ReuseRevokeAll ReusePolicy = "revoke_all"
	// ReuseRejectOnly rejects the request and leaves other sessions alone.
	ReuseRejectOnly ReusePolicy = "reject_only"
)

// ParseReusePolicy validates a policy name.
func ParseReusePolicy(s string) (ReusePolicy, error) {
	switch p := ReusePolicy(s); p {
	case ReuseRevokeAll, ReuseRejectOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown refresh reuse policy %q", s)
	}
}

var (
	errTokenMismatch = errors.New("refresh token matches no stored record")
	errTokenExpired  = errors.New("refresh token record expired")
)

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Account   domain.PublicAccount
	Tokens    auth.TokenPair
	ExpiresIn int
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	Tokens    auth.TokenPair
	ExpiresIn int
}

// SessionService implements registration, login, refresh token rotation and
// logout. It keeps no state between calls; the per-account refresh token set
// lives in the repository.
type SessionService struct {
	repo     repository.AccountRepository
	tokens   *auth.TokenCodec
	hasher   password.Hasher
	producer *event.Producer
	metrics  *Metrics
	policy   ReusePolicy
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithReusePolicy sets the response to an unknown refresh token.
func WithReusePolicy(p ReusePolicy) Option {
	return func(s *SessionService) { s.policy = p }
}

// WithMetrics enables outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(s *SessionService) { s.metrics = m }
}

// WithClock overrides the time source used for record expiry.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService creates a session service.
func NewSessionService(
	repo repository.AccountRepository,
	tokens *auth.TokenCodec,
	hasher password.Hasher,
	producer *event.Producer,
	logger *slog.Logger,
	opts ...Option,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SessionService{
		repo:     repo,
		tokens:   tokens,
		hasher:   hasher,
		producer: producer,
		policy:   ReuseRevokeAll,
		now:      time.Now,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account holding exactly one refresh token record and
// returns its first token pair.
func (s *SessionService) Register(ctx context.Context, email, plainPassword string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Register")
	defer func() { s.finish(span, "register", err) }()

	email = domain.NormalizeEmail(email)
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.Conflict(MsgEmailInUse)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hasher.Hash(plainPassword)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := domain.NewAccount(email, hash, now)
	pair, record, err := s.issue(account, now)
	if err != nil {
		return nil, err
	}
	if err := account.RefreshTokens.Append(record); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, apperrors.Conflict(MsgEmailInUse)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if err := s.producer.PublishAccountRegistered(ctx, account); err != nil {
		s.log(ctx).WarnContext(ctx, "failed to publish account registered event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.log(ctx).InfoContext(ctx, "account registered", slog.String("account_id", account.ID))
	return s.authResult(account, pair), nil
}

// Login verifies credentials and replaces every stored refresh token record
// of the account with a single new one.
func (s *SessionService) Login(ctx context.Context, email, plainPassword string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Login")
	defer func() { s.finish(span, "login", err) }()

	account, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Unauthorized(MsgInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !s.hasher.Verify(plainPassword, account.PasswordHash) {
		return nil, apperrors.Unauthorized(MsgInvalidCredentials)
	}

	now := s.now().UTC()
	pair, record, err := s.issue(account, now)
	if err != nil {
		return nil, err
	}

	err = s.repo.UpdateRefreshTokens(ctx, account.ID, func(a *domain.Account) error {
		a.RefreshTokens.ReplaceAll(record)
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Unauthorized(MsgInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.log(ctx).InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))
	return s.authResult(account, pair), nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued. Every rejection is reported as Unauthorized.
func (s *SessionService) Refresh(ctx context.Context, presented string) (_ *RefreshResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	if presented == "" {
		return nil, apperrors.Unauthorized(MsgRefreshFailed)
	}
	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		s.log(ctx).DebugContext(ctx, "refresh token rejected", slog.String("error", err.Error()))
		return nil, apperrors.Unauthorized(MsgRefreshFailed)
	}
	span.SetAttributes(attribute.String("account.id", claims.AccountID))

	hashed := auth.HashForStorage(presented)
	var pair auth.TokenPair

	err = s.repo.UpdateRefreshTokens(ctx, claims.AccountID, func(a *domain.Account) error {
		now := s.now().UTC()

		current, ok := a.RefreshTokens.FindByID(claims.TokenID)
		if !ok || !current.MatchesHash(hashed) {
			if s.policy == ReuseRevokeAll {
				a.RefreshTokens.Clear()
			}
			return errTokenMismatch
		}
		if current.Expired(now) {
			a.RefreshTokens.Remove(current.TokenID)
			return errTokenExpired
		}

		next, record, err := s.issue(a, now)
		if err != nil {
			return err
		}
		a.RefreshTokens.PruneExpired(now)
		a.RefreshTokens.Remove(current.TokenID)
		if err := a.RefreshTokens.Append(record); err != nil {
			return err
		}
		pair = next
		return nil
	})

	switch {
	case err == nil:
		return &RefreshResult{Tokens: pair, ExpiresIn: s.expiresIn()}, nil
	case errors.Is(err, errTokenMismatch):
		s.onReplay(ctx, claims)
		return nil, apperrors.Unauthorized(MsgRefreshFailed)
	case errors.Is(err, errTokenExpired):
		return nil, apperrors.Unauthorized(MsgSessionExpired)
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, apperrors.Unauthorized(MsgRefreshFailed)
	default:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
}

// Logout removes the record linked to the presented refresh token. It is
// best effort: invalid tokens and storage failures are logged and ignored.
func (s *SessionService) Logout(ctx context.Context, presented string) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Logout")
	defer span.End()

	if presented == "" {
		s.metrics.observe("logout", outcomeSuccess)
		return
	}
	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		s.metrics.observe("logout", outcomeSuccess)
		return
	}

	err = s.repo.UpdateRefreshTokens(ctx, claims.AccountID, func(a *domain.Account) error {
		a.RefreshTokens.Remove(claims.TokenID)
		return nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.metrics.observe("logout", outcomeError)
		span.RecordError(err)
		s.log(ctx).WarnContext(ctx, "failed to remove refresh token on logout",
			slog.String("account_id", claims.AccountID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.observe("logout", outcomeSuccess)
}

// VerifyAccess checks an access token and returns its claims.
func (s *SessionService) VerifyAccess(token string) (*auth.Claims, error) {
	return s.tokens.VerifyAccess(token)
}

func (s *SessionService) onReplay(ctx context.Context, claims *auth.Claims) {
	s.metrics.replay()
	s.log(ctx).WarnContext(ctx, "refresh token matched no stored record",
		slog.String("account_id", claims.AccountID),
		slog.String("policy", string(s.policy)),
	)
	if s.policy != ReuseRevokeAll {
		return
	}
	if err := s.producer.PublishSessionsRevoked(ctx, claims.AccountID, claims.TokenID, event.ReasonTokenReuse); err != nil {
		s.log(ctx).WarnContext(ctx, "failed to publish sessions revoked event",
			slog.String("account_id", claims.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

// issue signs a new token pair for account and builds the record that
// links the refresh token to it.
func (s *SessionService) issue(account *domain.Account, now time.Time) (auth.TokenPair, domain.RefreshTokenRecord, error) {
	tokenID := auth.NewTokenID()
	pair, err := s.tokens.IssuePair(auth.Subject{
		AccountID: account.ID,
		Email:     account.Email,
		TokenID:   tokenID,
	})
	if err != nil {
		return auth.TokenPair{}, domain.RefreshTokenRecord{}, err
	}
	return pair, domain.RefreshTokenRecord{
		TokenID:     tokenID,
		HashedToken: auth.HashForStorage(pair.RefreshToken),
		ExpiresAt:   now.Add(s.tokens.RefreshTTL()),
		CreatedAt:   now,
	}, nil
}

func (s *SessionService) authResult(account *domain.Account, pair auth.TokenPair) *AuthResult {
	return &AuthResult{
		Account:   account.Public(),
		Tokens:    pair,
		ExpiresIn: s.expiresIn(),
	}
}

func (s *SessionService) expiresIn() int {
	return int(s.tokens.AccessTTL() / time.Second)
}

func (s *SessionService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

// finish ends span and records the outcome of operation.
func (s *SessionService) finish(span trace.Span, operation string, err error) {
	defer span.End()
	s.metrics.observe(operation, outcomeOf(err))
	if err == nil {
		return
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Status >= 500 {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func outcomeOf(err error) string {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.As(err, &appErr):
		switch appErr.Message {
		case MsgEmailInUse:
			return outcomeConflict
		case MsgInvalidCredentials:
			return outcomeInvalidCredentials
		case MsgSessionExpired:
			return outcomeExpired
		default:
			return outcomeRejected
		}
	default:
		return outcomeError
	}
}
