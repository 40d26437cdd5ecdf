package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/astro-consult/internal/application"
)

type consultationService interface {
	CreateConsultation(ctx context.Context, params application.CreateConsultationParams) (application.Consultation, error)
	GetConsultation(ctx context.Context, participant application.Participant, id string) (application.Consultation, error)
	ListConsultationsFor(ctx context.Context, participant application.Participant) ([]application.Consultation, error)
	Start(ctx context.Context, participant application.Participant, id string) (application.Consultation, error)
	End(ctx context.Context, participant application.Participant, id string) (application.Consultation, error)
	Cancel(ctx context.Context, participant application.Participant, id string) (application.Consultation, error)
}

type ConsultationHandler struct {
	service   consultationService
	responder responder
}

func NewConsultationHandler(service consultationService, logger *slog.Logger) *ConsultationHandler {
	return &ConsultationHandler{service: service, responder: newResponder(logger)}
}

func (h *ConsultationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req consultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	consultation, err := h.service.CreateConsultation(r.Context(), req.toParams())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toConsultationDTO(consultation))
}

func (h *ConsultationHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	consultation, err := h.service.GetConsultation(r.Context(), participant, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toConsultationDTO(consultation))
}

func (h *ConsultationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	participant, _ := ParticipantFromContext(r.Context())

	consultations, err := h.service.ListConsultationsFor(r.Context(), participant)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listConsultationsResponse{
		Consultations: toConsultationDTOs(consultations),
	})
}

// Transition dispatches the lifecycle actions exposed as sub-resources
// of a consultation: start, end and cancel.
func (h *ConsultationHandler) Transition(w http.ResponseWriter, r *http.Request, action string) {
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

	var (
		consultation application.Consultation
		err          error
	)
	switch action {
	case "start":
		consultation, err = h.service.Start(r.Context(), participant, id)
	case "end":
		consultation, err = h.service.End(r.Context(), participant, id)
	case "cancel":
		consultation, err = h.service.Cancel(r.Context(), participant, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toConsultationDTO(consultation))
}

type consultationRequest struct {
	UserID            string `json:"user_id"`
	AstrologerID      string `json:"astrologer_id"`
	ScheduledAt       string `json:"scheduled_at"`
	CommunicationType string `json:"communication_type"`
}

func (r consultationRequest) toParams() application.CreateConsultationParams {
	return application.CreateConsultationParams{
		UserID:            strings.TrimSpace(r.UserID),
		AstrologerID:      strings.TrimSpace(r.AstrologerID),
		ScheduledAt:       parseTime(r.ScheduledAt),
		CommunicationType: application.CommunicationType(strings.TrimSpace(r.CommunicationType)),
	}
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

type listConsultationsResponse struct {
	Consultations []consultationDTO `json:"consultations"`
}

// consultationDTO deliberately omits SharedSecret: the symmetric key
// never crosses the API boundary.
type consultationDTO struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	AstrologerID        string `json:"astrologer_id"`
	ScheduledAt         string `json:"scheduled_at"`
	Status              string `json:"status"`
	CommunicationType   string `json:"communication_type"`
	UserPublicKey       string `json:"user_public_key,omitempty"`
	AstrologerPublicKey string `json:"astrologer_public_key,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

func toConsultationDTO(consultation application.Consultation) consultationDTO {
	return consultationDTO{
		ID:                  consultation.ID,
		UserID:              consultation.UserID,
		AstrologerID:        consultation.AstrologerID,
		ScheduledAt:         consultation.ScheduledAt.UTC().Format(time.RFC3339),
		Status:              string(consultation.Status),
		CommunicationType:   string(consultation.CommunicationType),
		UserPublicKey:       consultation.UserPublicKey,
		AstrologerPublicKey: consultation.AstrologerPublicKey,
		CreatedAt:           consultation.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           consultation.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toConsultationDTOs(consultations []application.Consultation) []consultationDTO {
	if len(consultations) == 0 {
		return nil
	}
	out := make([]consultationDTO, 0, len(consultations))
	for _, consultation := range consultations {
		out = append(out, toConsultationDTO(consultation))
	}
	return out
}
