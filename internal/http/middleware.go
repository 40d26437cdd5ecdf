package http

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/astro-consult/internal/application"
)

// Identity headers supplied by the upstream gateway. Verifying them is
// the gateway's job; this service only types and validates the values.
const (
	participantIDHeader   = "X-Participant-ID"
	participantRoleHeader = "X-Participant-Role"
)

// RequireParticipant resolves the calling participant from the identity
// headers and attaches it to the request context. Requests without a
// complete, well formed identity are rejected before any handler runs.
func RequireParticipant(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(participantIDHeader))
			role := application.Role(strings.TrimSpace(strings.ToLower(r.Header.Get(participantRoleHeader))))

			if id == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingParticipant)
				return
			}
			if !role.Valid() {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errInvalidParticipantRole)
				return
			}

			ctx := ContextWithParticipant(r.Context(), application.Participant{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request-scoped logger with a monotonically
// increasing request id and logs request start and completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}
