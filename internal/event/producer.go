package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/authservice/internal/domain"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
)

// Kafka topics for user lifecycle events.
var (
	TopicUserRegistered    = pkgkafka.Topic("user", "registered")
	TopicUserStatusChanged = pkgkafka.Topic("user", "status_changed")
)

const (
	// SubjectTypeUser is the subject type carried by every user event.
	SubjectTypeUser = "user"
	// SourceAuthService identifies events originating from this service.
	SourceAuthService = "auth-service"
)

// UserRegisteredData is the payload for a user.registered event. It never
// carries the password hash.
type UserRegisteredData struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name,omitempty"`
}

// UserStatusChangedData is the payload for a user.status_changed event.
type UserStatusChangedData struct {
	Username string `json:"username"`
	Disabled bool   `json:"disabled"`
}

// Publisher announces user lifecycle changes to other services.
type Publisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishUserStatusChanged(ctx context.Context, username string, disabled bool) error
}

// EventWriter is the subset of *pkgkafka.Producer used here.
type EventWriter interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes user events to Kafka. Every event is keyed by username.
type Producer struct {
	kafka  EventWriter
	logger *slog.Logger
}

func NewProducer(kafka EventWriter, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.Username, UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
	})
}

func (p *Producer) PublishUserStatusChanged(ctx context.Context, username string, disabled bool) error {
	return p.publish(ctx, TopicUserStatusChanged, username, UserStatusChangedData{
		Username: username,
		Disabled: disabled,
	})
}

func (p *Producer) publish(ctx context.Context, topic, username string, data any) error {
	subject := pkgkafka.Subject{Type: SubjectTypeUser, ID: username}
	event, err := pkgkafka.NewEvent(ctx, SourceAuthService, topic, subject, data)
	if err != nil {
		return err
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "user event published",
		slog.String("topic", topic),
		slog.String("username", username),
	)
	return nil
}

// NoopPublisher drops every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishUserRegistered(context.Context, *domain.User) error { return nil }

func (NoopPublisher) PublishUserStatusChanged(context.Context, string, bool) error { return nil }
