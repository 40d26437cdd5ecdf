package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/astro-consult/internal/crypto"
	"github.com/example/astro-consult/internal/persistence"
)

// ConsultationRepository captures the persistence interactions needed by the
// consultation service.
type ConsultationRepository interface {
	CreateConsultation(ctx context.Context, consultation Consultation) error
	GetConsultation(ctx context.Context, id string) (Consultation, error)
	ListConsultationsForParticipant(ctx context.Context, participantID string) ([]Consultation, error)
	TransitionStatus(ctx context.Context, id string, from []Status, to Status, at time.Time) error
	MarkDueLive(ctx context.Context, now time.Time) (int64, error)
}

// ConsultationService owns the consultation lifecycle: booking, the
// scheduled → live → completed progression, cancellation, and the messaging
// gate. Key material is established here, once, at booking time.
type ConsultationService struct {
	consultations ConsultationRepository
	idGenerator   func() string
	now           func() time.Time
	logger        *slog.Logger

	// Key agreement is performed server side for both parties, so the
	// platform holds every consultation's secret.
	generateKeyPair func() (crypto.KeyPair, error)
	deriveSecret    func(privateKey, peerPublic string) (string, error)
}

// NewConsultationService wires dependencies for consultation operations.
func NewConsultationService(consultations ConsultationRepository, idGenerator func() string, now func() time.Time) *ConsultationService {
	return NewConsultationServiceWithLogger(consultations, idGenerator, now, nil)
}

// NewConsultationServiceWithLogger is NewConsultationService with an explicit logger.
func NewConsultationServiceWithLogger(consultations ConsultationRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ConsultationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ConsultationService{
		consultations:   consultations,
		idGenerator:     idGenerator,
		now:             now,
		logger:          defaultLogger(logger),
		generateKeyPair: crypto.GenerateKeyPair,
		deriveSecret:    crypto.DeriveSecret,
	}
}

// CreateConsultation validates and books a new consultation. Both key pairs
// are generated here and the shared secret is derived and stored with the
// record; it is never rotated afterwards.
func (s *ConsultationService) CreateConsultation(ctx context.Context, params CreateConsultationParams) (Consultation, error) {
	if s == nil || s.consultations == nil {
		return Consultation{}, fmt.Errorf("consultation repository not configured")
	}

	logger := serviceLogger(ctx, s.logger, "consultation", "create")

	vErr := &ValidationError{}
	if strings.TrimSpace(params.UserID) == "" {
		vErr.add("user_id", "user is required")
	}
	if strings.TrimSpace(params.AstrologerID) == "" {
		vErr.add("astrologer_id", "astrologer is required")
	}
	if params.UserID != "" && params.UserID == params.AstrologerID {
		vErr.add("astrologer_id", "astrologer must differ from user")
	}
	if params.ScheduledAt.IsZero() {
		vErr.add("scheduled_at", "scheduled time is required")
	}
	switch params.CommunicationType {
	case CommunicationChat, CommunicationVideo:
	default:
		vErr.add("communication_type", "must be chat or video")
	}
	if vErr.HasErrors() {
		logger.InfoContext(ctx, "booking rejected", "error_kind", ErrorKind(vErr))
		return Consultation{}, vErr
	}

	userPair, err := s.generateKeyPair()
	if err != nil {
		return Consultation{}, fmt.Errorf("generate user key pair: %w", err)
	}
	astrologerPair, err := s.generateKeyPair()
	if err != nil {
		return Consultation{}, fmt.Errorf("generate astrologer key pair: %w", err)
	}

	secret, err := s.deriveSecret(userPair.Private, astrologerPair.Public)
	if err != nil {
		return Consultation{}, err
	}

	createdAt := s.now()
	consultation := Consultation{
		ID:                  s.idGenerator(),
		UserID:              params.UserID,
		AstrologerID:        params.AstrologerID,
		ScheduledAt:         params.ScheduledAt,
		Status:              StatusScheduled,
		CommunicationType:   params.CommunicationType,
		UserPublicKey:       userPair.Public,
		AstrologerPublicKey: astrologerPair.Public,
		SharedSecret:        secret,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}

	if err := s.consultations.CreateConsultation(ctx, consultation); err != nil {
		return Consultation{}, mapRepoError(err)
	}

	logger.InfoContext(ctx, "consultation booked",
		"consultation_id", consultation.ID,
		"scheduled_at", consultation.ScheduledAt,
		"communication_type", consultation.CommunicationType,
	)
	return consultation, nil
}

// GetConsultation returns one consultation visible to the participant.
func (s *ConsultationService) GetConsultation(ctx context.Context, participant Participant, id string) (Consultation, error) {
	consultation, err := s.resolve(ctx, id)
	if err != nil {
		return Consultation{}, err
	}
	if !consultation.Includes(participant) {
		return Consultation{}, ErrUnauthorized
	}
	return consultation, nil
}

// ListConsultationsFor enumerates the participant's consultations in
// scheduled order.
func (s *ConsultationService) ListConsultationsFor(ctx context.Context, participant Participant) ([]Consultation, error) {
	if s == nil || s.consultations == nil {
		return nil, fmt.Errorf("consultation repository not configured")
	}
	if !participant.Role.Valid() || participant.ID == "" {
		return nil, ErrUnauthorized
	}

	consultations, err := s.consultations.ListConsultationsForParticipant(ctx, participant.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	// The repository matches on either side; keep only records where the
	// participant sits on the side their role claims.
	visible := consultations[:0]
	for _, consultation := range consultations {
		if consultation.Includes(participant) {
			visible = append(visible, consultation)
		}
	}
	return visible, nil
}

// Start moves a scheduled consultation to live on behalf of a participant.
func (s *ConsultationService) Start(ctx context.Context, participant Participant, id string) (Consultation, error) {
	return s.transition(ctx, participant, id, "start", []Status{StatusScheduled}, StatusLive)
}

// End completes a live consultation.
func (s *ConsultationService) End(ctx context.Context, participant Participant, id string) (Consultation, error) {
	return s.transition(ctx, participant, id, "end", []Status{StatusLive}, StatusCompleted)
}

// Cancel aborts a consultation that has not yet completed. Either party may
// cancel while the consultation is scheduled or live.
func (s *ConsultationService) Cancel(ctx context.Context, participant Participant, id string) (Consultation, error) {
	return s.transition(ctx, participant, id, "cancel", []Status{StatusScheduled, StatusLive}, StatusCanceled)
}

// CanExchangeMessages reports whether the consultation currently accepts
// chat traffic: exactly when its status is live.
func (s *ConsultationService) CanExchangeMessages(ctx context.Context, id string) (bool, error) {
	consultation, err := s.resolve(ctx, id)
	if err != nil {
		return false, err
	}
	return consultation.Status == StatusLive, nil
}

func (s *ConsultationService) transition(ctx context.Context, participant Participant, id, operation string, from []Status, to Status) (Consultation, error) {
	if s == nil || s.consultations == nil {
		return Consultation{}, fmt.Errorf("consultation repository not configured")
	}

	logger := serviceLogger(ctx, s.logger, "consultation", operation, "consultation_id", id)

	consultation, err := s.resolve(ctx, id)
	if err != nil {
		return Consultation{}, err
	}
	if !consultation.Includes(participant) {
		logger.InfoContext(ctx, "transition rejected", "error_kind", ErrorKind(ErrUnauthorized))
		return Consultation{}, ErrUnauthorized
	}

	at := s.now()
	if err := s.consultations.TransitionStatus(ctx, id, from, to, at); err != nil {
		mapped := mapRepoError(err)
		logger.InfoContext(ctx, "transition rejected",
			"error_kind", ErrorKind(mapped),
			"from", consultation.Status,
			"to", to,
		)
		return Consultation{}, mapped
	}

	consultation.Status = to
	consultation.UpdatedAt = at
	logger.InfoContext(ctx, "consultation transitioned", "to", to)
	return consultation, nil
}

func (s *ConsultationService) resolve(ctx context.Context, id string) (Consultation, error) {
	if s == nil || s.consultations == nil {
		return Consultation{}, fmt.Errorf("consultation repository not configured")
	}
	consultation, err := s.consultations.GetConsultation(ctx, id)
	if err != nil {
		return Consultation{}, mapRepoError(err)
	}
	return consultation, nil
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrInvalidState):
		return ErrInvalidTransition
	case errors.Is(err, persistence.ErrDuplicate):
		vErr := &ValidationError{}
		vErr.add("id", "consultation already exists")
		return vErr
	case errors.Is(err, persistence.ErrConstraintViolation), errors.Is(err, persistence.ErrForeignKeyViolation):
		vErr := &ValidationError{}
		vErr.add("record", "related records are missing or invalid")
		return vErr
	case errors.Is(err, context.DeadlineExceeded):
		return ErrStorageTimeout
	}
	return err
}
