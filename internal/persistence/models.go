package persistence

import "time"

// Consultation represents one booked engagement between a user and an
// astrologer, including the key material protecting its chat thread.
//
// SharedSecret is present exactly when both public keys are present; it is
// set once at creation time and never rotated.
type Consultation struct {
	ID                  string
	UserID              string
	AstrologerID        string
	ScheduledAt         time.Time
	Status              string
	CommunicationType   string
	UserPublicKey       string
	AstrologerPublicKey string
	SharedSecret        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Message is one immutable utterance of a consultation's chat thread. The
// body is stored as ciphertext only; plaintext never reaches persistence.
type Message struct {
	ID             string
	ConsultationID string
	SenderID       string
	SenderRole     string
	ReceiverID     string
	ReceiverRole   string
	Ciphertext     []byte
	IV             []byte
	CreatedAt      time.Time
}
