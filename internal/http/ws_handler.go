package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/example/astro-consult/internal/application"
	"github.com/example/astro-consult/internal/realtime"
)

type consultationResolver interface {
	GetConsultation(ctx context.Context, participant application.Participant, id string) (application.Consultation, error)
}

// WSHandler upgrades authorized participants to a websocket that
// streams the consultation's room events.
type WSHandler struct {
	consultations consultationResolver
	hub           *realtime.Hub
	upgrader      websocket.Upgrader
	responder     responder
	logger        *slog.Logger
}

func NewWSHandler(consultations consultationResolver, hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		consultations: consultations,
		hub:           hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway terminates origin checks along with
			// authentication.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		responder: newResponder(logger),
		logger:    logger,
	}
}

// Serve checks membership, upgrades the connection and joins the
// consultation's room. It returns when the connection closes.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.consultations == nil || h.hub == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := ConsultationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidConsultationID)
		return
	}

	participant, _ := ParticipantFromContext(r.Context())

	// Membership is checked before the upgrade so rejections stay
	// ordinary JSON responses.
	if _, err := h.consultations.GetConsultation(r.Context(), participant, id); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		handlerLogger(r.Context(), h.logger, "ws", "serve", "consultation_id", id).
			ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := realtime.NewClient(h.hub, conn, id, h.logger)
	if err := client.Serve(); err != nil {
		handlerLogger(r.Context(), h.logger, "ws", "serve", "consultation_id", id).
			WarnContext(r.Context(), "realtime session rejected", "error", err)
	}
}
