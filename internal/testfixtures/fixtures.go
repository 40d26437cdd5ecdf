package testfixtures

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/astro-consult/internal/application"
	"github.com/example/astro-consult/internal/persistence"
)

var (
	consultationCounter uint64
	messageCounter      uint64
)

var referenceTime = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// SharedSecret returns a well formed 32-byte hex secret for codec tests.
func SharedSecret() string {
	return strings.Repeat("0a", 32)
}

// ------------------------- Consultation fixtures -------------------------

// ConsultationFixture is a deterministic consultation record that can be
// materialised for application or persistence tests.
type ConsultationFixture struct {
	ID                  string
	UserID              string
	AstrologerID        string
	ScheduledAt         time.Time
	Status              application.Status
	CommunicationType   application.CommunicationType
	UserPublicKey       string
	AstrologerPublicKey string
	SharedSecret        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ConsultationOption configures the generated consultation fixture.
type ConsultationOption func(*ConsultationFixture)

// NewConsultationFixture returns a deterministic consultation fixture
// with optional overrides. The default record is scheduled one hour
// after the reference time with key material already in place.
func NewConsultationFixture(opts ...ConsultationOption) ConsultationFixture {
	idx := atomic.AddUint64(&consultationCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := ConsultationFixture{
		ID:                  fmt.Sprintf("consult-%03d", idx),
		UserID:              fmt.Sprintf("user-%03d", idx),
		AstrologerID:        fmt.Sprintf("astro-%03d", idx),
		ScheduledAt:         created.Add(time.Hour),
		Status:              application.StatusScheduled,
		CommunicationType:   application.CommunicationChat,
		UserPublicKey:       strings.Repeat("1b", 256),
		AstrologerPublicKey: strings.Repeat("2c", 256),
		SharedSecret:        SharedSecret(),
		CreatedAt:           created,
		UpdatedAt:           created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithConsultationID overrides the generated consultation ID.
func WithConsultationID(id string) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.ID = id
	}
}

// WithParticipants overrides both participant identifiers.
func WithParticipants(userID, astrologerID string) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.UserID = userID
		f.AstrologerID = astrologerID
	}
}

// WithStatus overrides the lifecycle status.
func WithStatus(status application.Status) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.Status = status
	}
}

// WithScheduledAt overrides the scheduled time.
func WithScheduledAt(at time.Time) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.ScheduledAt = at
	}
}

// WithCommunicationType overrides the communication type.
func WithCommunicationType(ct application.CommunicationType) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.CommunicationType = ct
	}
}

// WithSharedSecret overrides the stored symmetric secret.
func WithSharedSecret(secret string) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.SharedSecret = secret
	}
}

// ToApplication converts the fixture into the application model.
func (f ConsultationFixture) ToApplication() application.Consultation {
	return application.Consultation{
		ID:                  f.ID,
		UserID:              f.UserID,
		AstrologerID:        f.AstrologerID,
		ScheduledAt:         f.ScheduledAt,
		Status:              f.Status,
		CommunicationType:   f.CommunicationType,
		UserPublicKey:       f.UserPublicKey,
		AstrologerPublicKey: f.AstrologerPublicKey,
		SharedSecret:        f.SharedSecret,
		CreatedAt:           f.CreatedAt,
		UpdatedAt:           f.UpdatedAt,
	}
}

// ToPersistence converts the fixture into the persistence model.
func (f ConsultationFixture) ToPersistence() persistence.Consultation {
	return persistence.Consultation{
		ID:                  f.ID,
		UserID:              f.UserID,
		AstrologerID:        f.AstrologerID,
		ScheduledAt:         f.ScheduledAt,
		Status:              string(f.Status),
		CommunicationType:   string(f.CommunicationType),
		UserPublicKey:       f.UserPublicKey,
		AstrologerPublicKey: f.AstrologerPublicKey,
		SharedSecret:        f.SharedSecret,
		CreatedAt:           f.CreatedAt,
		UpdatedAt:           f.UpdatedAt,
	}
}

// --------------------------- Message fixtures ----------------------------

// MessageFixture is a deterministic stored chat message.
type MessageFixture struct {
	ID             string
	ConsultationID string
	SenderID       string
	SenderRole     application.Role
	ReceiverID     string
	ReceiverRole   application.Role
	Ciphertext     []byte
	IV             []byte
	CreatedAt      time.Time
}

// MessageOption configures the generated message fixture.
type MessageOption func(*MessageFixture)

// NewMessageFixture returns a deterministic message fixture tied to the
// given consultation, alternating sender roles per call.
func NewMessageFixture(consultation ConsultationFixture, opts ...MessageOption) MessageFixture {
	idx := atomic.AddUint64(&messageCounter, 1)
	fixture := MessageFixture{
		ID:             fmt.Sprintf("msg-%03d", idx),
		ConsultationID: consultation.ID,
		SenderID:       consultation.UserID,
		SenderRole:     application.RoleUser,
		ReceiverID:     consultation.AstrologerID,
		ReceiverRole:   application.RoleAstrologer,
		Ciphertext:     []byte(fmt.Sprintf("ciphertext-%03d", idx)),
		IV:             []byte(fmt.Sprintf("iv-%03d-padded16", idx)),
		CreatedAt:      referenceTime.Add(time.Duration(idx) * time.Second),
	}
	if idx%2 == 0 {
		fixture.SenderID, fixture.ReceiverID = fixture.ReceiverID, fixture.SenderID
		fixture.SenderRole, fixture.ReceiverRole = fixture.ReceiverRole, fixture.SenderRole
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMessageID overrides the generated message ID.
func WithMessageID(id string) MessageOption {
	return func(f *MessageFixture) {
		f.ID = id
	}
}

// WithCiphertext overrides the stored ciphertext and IV.
func WithCiphertext(ciphertext, iv []byte) MessageOption {
	return func(f *MessageFixture) {
		f.Ciphertext = ciphertext
		f.IV = iv
	}
}

// ToPersistence converts the fixture into the persistence model.
func (f MessageFixture) ToPersistence() persistence.Message {
	return persistence.Message{
		ID:             f.ID,
		ConsultationID: f.ConsultationID,
		SenderID:       f.SenderID,
		SenderRole:     string(f.SenderRole),
		ReceiverID:     f.ReceiverID,
		ReceiverRole:   string(f.ReceiverRole),
		Ciphertext:     f.Ciphertext,
		IV:             f.IV,
		CreatedAt:      f.CreatedAt,
	}
}
