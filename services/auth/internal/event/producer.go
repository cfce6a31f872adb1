package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/utafrali/authsession/pkg/kafka"
	"github.com/utafrali/authsession/pkg/logger"
	"github.com/utafrali/authsession/services/auth/internal/domain"
)

// Kafka topics for auth domain events.
var (
	TopicAccountRegistered  = pkgkafka.Topic("account", "registered")
	TopicSessionsRevokedAll = pkgkafka.Topic("session", "revoked_all")
)

// Aggregate types.
const (
	AggregateTypeAccount = "account"
	AggregateTypeSession = "session"
)

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "auth-service"

// Reasons attached to a sessions-revoked event.
const (
	ReasonTokenReuse = "refresh_token_reuse"
)

// AccountRegisteredData is the payload for auth.account.registered.
type AccountRegisteredData struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionsRevokedData is the payload for auth.session.revoked_all.
type SessionsRevokedData struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	TokenID   string `json:"token_id,omitempty"`
}

// Publisher is the transport the producer writes to. *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates an event producer. A nil publisher yields a producer
// that drops every event, which is how the service runs with Kafka disabled.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{publisher: publisher, logger: logger}
}

// Enabled reports whether events are actually sent anywhere.
func (p *Producer) Enabled() bool {
	return p != nil && p.publisher != nil
}

// PublishAccountRegistered publishes an auth.account.registered event.
func (p *Producer) PublishAccountRegistered(ctx context.Context, account *domain.Account) error {
	data := AccountRegisteredData{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	}
	return p.publish(ctx, TopicAccountRegistered, account.ID, AggregateTypeAccount, data)
}

// PublishSessionsRevoked publishes an auth.session.revoked_all event.
// tokenID is the id carried by the rejected refresh token.
func (p *Producer) PublishSessionsRevoked(ctx context.Context, accountID, tokenID, reason string) error {
	data := SessionsRevokedData{
		AccountID: accountID,
		Reason:    reason,
		TokenID:   tokenID,
	}
	return p.publish(ctx, TopicSessionsRevokedAll, accountID, AggregateTypeSession, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	if !p.Enabled() {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("account_id", aggregateID),
	)
	return nil
}
