package service

import (
	"context"

	"github.com/wavelink/auth-service/pkg/logging"
)

// EventPublisher fans auth events out to the rest of the platform
// (notification service and friends). Keyed by user ID.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// AuditRecorder persists security-relevant happenings. Best effort:
// implementations log failures instead of failing the auth flow.
type AuditRecorder interface {
	Record(ctx context.Context, kind string, fields map[string]any)
}

// Mailer delivers password-reset links. Delivery is external; the plain
// reset token never leaves the service any other way.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, map[string]any) {}

// LogMailer stands in until a real delivery channel is wired. It logs
// that a reset was requested without the token value.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, email, _ string) error {
	logging.FromContext(ctx).Info("password_reset_mail", "email", email)
	return nil
}
