package http

import (
	"context"
	"log/slog"

	"github.com/example/astro-consult/internal/application"
	"github.com/example/astro-consult/internal/logging"
)

type contextKey string

const (
	participantContextKey    contextKey = "participant"
	consultationIDContextKey contextKey = "consultation_id"
)

// ContextWithParticipant returns a derived context carrying the calling
// participant resolved by the identity middleware.
func ContextWithParticipant(ctx context.Context, participant application.Participant) context.Context {
	return context.WithValue(ctx, participantContextKey, participant)
}

// ParticipantFromContext extracts the calling participant if present.
func ParticipantFromContext(ctx context.Context) (application.Participant, bool) {
	participant, ok := ctx.Value(participantContextKey).(application.Participant)
	return participant, ok
}

// ContextWithConsultationID injects the consultation identifier resolved
// from the request path.
func ContextWithConsultationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consultationIDContextKey, id)
}

// ConsultationIDFromContext extracts a consultation identifier previously
// associated with the context.
func ConsultationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(consultationIDContextKey).(string)
	return id, ok
}

// ContextWithLogger and LoggerFromContext re-export the shared helpers so
// handlers and middleware stay within the package vocabulary.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}
