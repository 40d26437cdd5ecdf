package persistence

import (
	"context"
	"time"
)

// ConsultationRepository stores consultation records and their lifecycle state.
type ConsultationRepository interface {
	CreateConsultation(ctx context.Context, consultation Consultation) error
	GetConsultation(ctx context.Context, id string) (Consultation, error)
	ListConsultationsForParticipant(ctx context.Context, participantID string) ([]Consultation, error)

	// TransitionStatus conditionally moves a consultation from one of the
	// given states to the target state. It returns ErrNotFound when the
	// consultation does not exist and ErrInvalidState when it exists but is
	// not in any of the required states.
	TransitionStatus(ctx context.Context, id string, from []string, to string, at time.Time) error

	// MarkDueLive advances every consultation that is still scheduled and
	// whose scheduled time is at or before now to the live state in a
	// single batched update, returning the number of rows moved. Running it
	// repeatedly is idempotent: rows already live are simply not matched.
	MarkDueLive(ctx context.Context, now time.Time) (int64, error)
}

// MessageRepository stores the append-only chat log, one thread per
// consultation. Threads are created lazily on first append.
type MessageRepository interface {
	// AppendMessage atomically appends one message to the consultation's
	// thread and returns the stored record. Concurrent appends to the same
	// thread must not lose or corrupt either message.
	AppendMessage(ctx context.Context, message Message) (Message, error)

	// ListMessages returns the full thread in append order.
	ListMessages(ctx context.Context, consultationID string) ([]Message, error)
}
