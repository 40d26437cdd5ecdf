package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/astro-consult/internal/application"
)

type messagingService interface {
	Send(ctx context.Context, params application.SendMessageParams) (application.Message, []application.DeliveryWarning, error)
	List(ctx context.Context, participant application.Participant, consultationID string) ([]application.ThreadMessage, error)
}

type MessageHandler struct {
	service   messagingService
	responder responder
}

func NewMessageHandler(service messagingService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{service: service, responder: newResponder(logger)}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := ConsultationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidConsultationID)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	participant, _ := ParticipantFromContext(r.Context())

	message, warnings, err := h.service.Send(r.Context(), application.SendMessageParams{
		ConsultationID: id,
		Sender:         participant,
		Text:           req.Text,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, sendMessageResponse{
		Message:  toMessageDTO(message),
		Warnings: toDeliveryWarningDTOs(warnings),
	})
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := ConsultationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidConsultationID)
		return
	}

	participant, _ := ParticipantFromContext(r.Context())

	messages, err := h.service.List(r.Context(), participant, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMessagesResponse{
		Messages: toThreadMessageDTOs(messages),
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	Message  messageDTO           `json:"message"`
	Warnings []deliveryWarningDTO `json:"warnings,omitempty"`
}

type listMessagesResponse struct {
	Messages []threadMessageDTO `json:"messages"`
}

// messageDTO is the durable record as stored: ciphertext and IV, hex
// encoded. The plaintext of a send is only echoed over the realtime
// channel.
type messageDTO struct {
	ID             string `json:"id"`
	ConsultationID string `json:"consultation_id"`
	SenderID       string `json:"sender_id"`
	SenderRole     string `json:"sender_role"`
	ReceiverID     string `json:"receiver_id"`
	ReceiverRole   string `json:"receiver_role"`
	Ciphertext     string `json:"ciphertext"`
	IV             string `json:"iv"`
	CreatedAt      string `json:"created_at"`
}

func toMessageDTO(message application.Message) messageDTO {
	return messageDTO{
		ID:             message.ID,
		ConsultationID: message.ConsultationID,
		SenderID:       message.SenderID,
		SenderRole:     string(message.SenderRole),
		ReceiverID:     message.ReceiverID,
		ReceiverRole:   string(message.ReceiverRole),
		Ciphertext:     hex.EncodeToString(message.Ciphertext),
		IV:             hex.EncodeToString(message.IV),
		CreatedAt:      message.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type threadMessageDTO struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	Text       string `json:"text,omitempty"`
	Corrupted  bool   `json:"corrupted,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toThreadMessageDTOs(messages []application.ThreadMessage) []threadMessageDTO {
	if len(messages) == 0 {
		return nil
	}
	out := make([]threadMessageDTO, 0, len(messages))
	for _, message := range messages {
		out = append(out, threadMessageDTO{
			ID:         message.ID,
			SenderID:   message.SenderID,
			SenderRole: string(message.SenderRole),
			Text:       message.Text,
			Corrupted:  message.Corrupted,
			CreatedAt:  message.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type deliveryWarningDTO struct {
	Reason string `json:"reason"`
}

func toDeliveryWarningDTOs(warnings []application.DeliveryWarning) []deliveryWarningDTO {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]deliveryWarningDTO, 0, len(warnings))
	for _, warning := range warnings {
		out = append(out, deliveryWarningDTO{Reason: warning.Reason})
	}
	return out
}
