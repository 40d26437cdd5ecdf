package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/astro-consult/internal/crypto"
)

// MessageRepository captures the persistence interactions needed by the
// messaging service.
type MessageRepository interface {
	AppendMessage(ctx context.Context, message Message) (Message, error)
	ListMessages(ctx context.Context, consultationID string) ([]Message, error)
}

// ConsultationResolver is the narrow consultation lookup the messaging
// service depends on.
type ConsultationResolver interface {
	GetConsultation(ctx context.Context, id string) (Consultation, error)
}

// MessageEvent is the payload fanned out to a consultation's room. It
// carries the plaintext: the realtime path never sees the shared secret,
// while the durable log never sees the plaintext.
type MessageEvent struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Broker fans events out to the connections joined to a consultation's room.
// Delivery is best effort; a failed publish never unwinds a completed append.
type Broker interface {
	Publish(ctx context.Context, roomID string, event MessageEvent) error
}

// Storage operation budget and the pause before its single retry.
const (
	defaultStorageTimeout = 5 * time.Second
	defaultRetryBackoff   = 100 * time.Millisecond
)

// MessagingService orchestrates the send and list paths: lifecycle gate,
// encryption, durable append and realtime fan-out.
type MessagingService struct {
	consultations  ConsultationResolver
	messages       MessageRepository
	broker         Broker
	idGenerator    func() string
	now            func() time.Time
	sleep          func(time.Duration)
	storageTimeout time.Duration
	retryBackoff   time.Duration
	logger         *slog.Logger

	encrypt func(plaintext []byte, secret string) (iv, ciphertext []byte, err error)
	decrypt func(ciphertext []byte, secret string, iv []byte) ([]byte, error)
}

// NewMessagingService wires dependencies for messaging operations.
func NewMessagingService(consultations ConsultationResolver, messages MessageRepository, broker Broker, idGenerator func() string, now func() time.Time) *MessagingService {
	return NewMessagingServiceWithLogger(consultations, messages, broker, idGenerator, now, nil)
}

// NewMessagingServiceWithLogger is NewMessagingService with an explicit logger.
func NewMessagingServiceWithLogger(consultations ConsultationResolver, messages MessageRepository, broker Broker, idGenerator func() string, now func() time.Time, logger *slog.Logger) *MessagingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &MessagingService{
		consultations:  consultations,
		messages:       messages,
		broker:         broker,
		idGenerator:    idGenerator,
		now:            now,
		sleep:          time.Sleep,
		storageTimeout: defaultStorageTimeout,
		retryBackoff:   defaultRetryBackoff,
		logger:         defaultLogger(logger),
		encrypt:        crypto.Encrypt,
		decrypt:        crypto.Decrypt,
	}
}

// SetStorageTimeout overrides the per-operation storage budget.
func (s *MessagingService) SetStorageTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.storageTimeout = timeout
	}
}

// Send validates, encrypts, persists and fans out one message.
//
// The returned message holds the ciphertext record; the caller already has
// the plaintext. Delivery warnings report a degraded realtime path: the
// message is stored either way, since persistence is the source of truth.
func (s *MessagingService) Send(ctx context.Context, params SendMessageParams) (Message, []DeliveryWarning, error) {
	if s == nil || s.consultations == nil || s.messages == nil {
		return Message{}, nil, fmt.Errorf("messaging service not configured")
	}

	logger := serviceLogger(ctx, s.logger, "messaging", "send", "consultation_id", params.ConsultationID)

	consultation, err := s.consultations.GetConsultation(ctx, params.ConsultationID)
	if err != nil {
		return Message{}, nil, mapRepoError(err)
	}

	receiver, ok := consultation.Counterpart(params.Sender)
	if !ok {
		logger.InfoContext(ctx, "send rejected", "error_kind", ErrorKind(ErrUnauthorized))
		return Message{}, nil, ErrUnauthorized
	}

	if consultation.Status != StatusLive {
		logger.InfoContext(ctx, "send rejected", "error_kind", ErrorKind(ErrNotLive), "status", consultation.Status)
		return Message{}, nil, ErrNotLive
	}

	iv, ciphertext, err := s.encrypt([]byte(params.Text), consultation.SharedSecret)
	if err != nil {
		logger.ErrorContext(ctx, "encrypt failed", "error_kind", ErrorKind(err), "error", err)
		return Message{}, nil, err
	}

	message := Message{
		ID:             s.idGenerator(),
		ConsultationID: consultation.ID,
		SenderID:       params.Sender.ID,
		SenderRole:     params.Sender.Role,
		ReceiverID:     receiver.ID,
		ReceiverRole:   receiver.Role,
		Ciphertext:     ciphertext,
		IV:             iv,
		CreatedAt:      s.now(),
	}

	stored, err := s.appendWithRetry(ctx, message)
	if err != nil {
		logger.ErrorContext(ctx, "append failed", "error_kind", ErrorKind(err), "error", err)
		return Message{}, nil, err
	}

	var warnings []DeliveryWarning
	if s.broker != nil {
		event := MessageEvent{
			ID:         stored.ID,
			SenderID:   stored.SenderID,
			SenderRole: stored.SenderRole,
			Text:       params.Text,
			CreatedAt:  stored.CreatedAt,
		}
		if err := s.broker.Publish(ctx, consultation.ID, event); err != nil {
			// Persistence already succeeded; realtime is best effort.
			logger.WarnContext(ctx, "realtime publish failed", "message_id", stored.ID, "error", err)
			warnings = append(warnings, DeliveryWarning{Reason: "realtime delivery degraded; recipients reconcile via history"})
		}
	}

	logger.InfoContext(ctx, "message stored", "message_id", stored.ID, "degraded", len(warnings) > 0)
	return stored, warnings, nil
}

// List returns the consultation's thread, decrypted, in append order. A
// record that fails to decrypt is marked corrupted and reported per item;
// the rest of the thread is still returned.
func (s *MessagingService) List(ctx context.Context, participant Participant, consultationID string) ([]ThreadMessage, error) {
	if s == nil || s.consultations == nil || s.messages == nil {
		return nil, fmt.Errorf("messaging service not configured")
	}

	logger := serviceLogger(ctx, s.logger, "messaging", "list", "consultation_id", consultationID)

	consultation, err := s.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !consultation.Includes(participant) {
		return nil, ErrUnauthorized
	}

	stored, err := s.listWithRetry(ctx, consultationID)
	if err != nil {
		logger.ErrorContext(ctx, "list failed", "error_kind", ErrorKind(err), "error", err)
		return nil, err
	}

	thread := make([]ThreadMessage, 0, len(stored))
	for _, message := range stored {
		item := ThreadMessage{
			ID:         message.ID,
			SenderID:   message.SenderID,
			SenderRole: message.SenderRole,
			CreatedAt:  message.CreatedAt,
		}
		plaintext, err := s.decrypt(message.Ciphertext, consultation.SharedSecret, message.IV)
		if err != nil {
			logger.WarnContext(ctx, "message failed to decrypt", "message_id", message.ID, "error_kind", ErrorKind(err))
			item.Corrupted = true
		} else {
			item.Text = string(plaintext)
		}
		thread = append(thread, item)
	}

	return thread, nil
}

// appendWithRetry bounds the append by the storage budget and retries once
// with backoff before surfacing a timeout.
func (s *MessagingService) appendWithRetry(ctx context.Context, message Message) (Message, error) {
	var stored Message
	err := s.withStorageBudget(ctx, func(opCtx context.Context) error {
		var err error
		stored, err = s.messages.AppendMessage(opCtx, message)
		return err
	})
	return stored, err
}

func (s *MessagingService) listWithRetry(ctx context.Context, consultationID string) ([]Message, error) {
	var stored []Message
	err := s.withStorageBudget(ctx, func(opCtx context.Context) error {
		var err error
		stored, err = s.messages.ListMessages(opCtx, consultationID)
		return err
	})
	return stored, err
}

func (s *MessagingService) withStorageBudget(ctx context.Context, fn func(context.Context) error) error {
	attempt := func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
		return fn(opCtx)
	}

	err := attempt()
	if err == nil || !isTimeout(err) {
		return err
	}

	// Give the storage layer one breath before the only retry.
	s.sleep(s.retryBackoff)
	if err := attempt(); err != nil {
		if isTimeout(err) {
			return ErrStorageTimeout
		}
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStorageTimeout)
}
