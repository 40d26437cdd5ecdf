package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/astro-consult/internal/application"
	"github.com/example/astro-consult/internal/crypto"
)

var (
	errBadRequestBody         = errors.New("the request body could not be parsed")
	errInvalidConsultationID  = errors.New("a consultation id is required")
	errMissingParticipant     = errors.New("participant identity headers are required")
	errInvalidParticipantRole = errors.New("participant role must be user or astrologer")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	r.loggerFor(ctx).ErrorContext(ctx, "operation failed", "error", err, "error_kind", application.ErrorKind(err))

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "NOT_A_PARTICIPANT",
			Message:   "you are not a participant of this consultation",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "the requested consultation was not found"})
	case errors.Is(err, application.ErrNotLive):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "CONSULTATION_NOT_LIVE",
			Message:   "messages can only be exchanged while the consultation is live",
		})
	case errors.Is(err, application.ErrInvalidTransition):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "the consultation cannot move to the requested status",
		})
	case errors.Is(err, application.ErrStorageTimeout):
		r.writeJSON(ctx, w, http.StatusGatewayTimeout, errorResponse{Message: "the message store did not respond in time"})
	case errors.Is(err, crypto.ErrKeyAgreement), errors.Is(err, crypto.ErrInvalidKeyLength), errors.Is(err, crypto.ErrCrypto):
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "a cryptographic operation failed"})
	default:
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				Message: "the request contains invalid fields",
				Errors:  vErr.FieldErrors,
			})
			return
		}

		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "an internal error occurred"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
