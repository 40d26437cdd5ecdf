package application

import "time"

// Status enumerates the consultation lifecycle states.
type Status string

const (
	// StatusScheduled is the initial state of a booked consultation.
	StatusScheduled Status = "scheduled"
	// StatusLive is the only state in which messages may be exchanged.
	StatusLive Status = "live"
	// StatusCompleted is terminal; reached by an explicit end action.
	StatusCompleted Status = "completed"
	// StatusCanceled is terminal; reachable from any non-terminal state.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CommunicationType distinguishes how a consultation is conducted.
type CommunicationType string

const (
	// CommunicationChat is a text-only consultation.
	CommunicationChat CommunicationType = "chat"
	// CommunicationVideo is a video consultation with an attached chat thread.
	CommunicationVideo CommunicationType = "video"
)

// Role identifies which side of a consultation a participant sits on.
type Role string

const (
	RoleUser       Role = "user"
	RoleAstrologer Role = "astrologer"
)

// Valid reports whether the role is one of the two closed variants.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAstrologer
}

// Complement returns the opposite role.
func (r Role) Complement() Role {
	if r == RoleUser {
		return RoleAstrologer
	}
	return RoleUser
}

// Participant is the authenticated identity acting on a consultation,
// resolved once at the boundary and carried as a typed value through the
// core. The role set is closed; there is no string-based dispatch past
// this point.
type Participant struct {
	ID   string
	Role Role
}

// Consultation represents one booked engagement between a user and an
// astrologer.
type Consultation struct {
	ID                  string
	UserID              string
	AstrologerID        string
	ScheduledAt         time.Time
	Status              Status
	CommunicationType   CommunicationType
	UserPublicKey       string
	AstrologerPublicKey string
	SharedSecret        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Includes reports whether the participant is one of the consultation's two
// parties, on the side their role claims.
func (c Consultation) Includes(p Participant) bool {
	switch p.Role {
	case RoleUser:
		return p.ID == c.UserID
	case RoleAstrologer:
		return p.ID == c.AstrologerID
	default:
		return false
	}
}

// Counterpart returns the other party of the consultation relative to the
// given participant.
func (c Consultation) Counterpart(p Participant) (Participant, bool) {
	if !c.Includes(p) {
		return Participant{}, false
	}
	if p.Role == RoleUser {
		return Participant{ID: c.AstrologerID, Role: RoleAstrologer}, true
	}
	return Participant{ID: c.UserID, Role: RoleUser}, true
}

// Message is one stored utterance of a consultation thread. The body is
// ciphertext; plaintext exists only in flight.
type Message struct {
	ID             string
	ConsultationID string
	SenderID       string
	SenderRole     Role
	ReceiverID     string
	ReceiverRole   Role
	Ciphertext     []byte
	IV             []byte
	CreatedAt      time.Time
}

// ThreadMessage is the decrypted view of one stored message. When the stored
// record cannot be decrypted, Corrupted is set and Text is empty; a single
// bad record never aborts the thread listing.
type ThreadMessage struct {
	ID         string
	SenderID   string
	SenderRole Role
	Text       string
	Corrupted  bool
	CreatedAt  time.Time
}

// DeliveryWarning reports a degraded, non-fatal outcome of a send: the
// message is durably stored but realtime fan-out did not complete.
type DeliveryWarning struct {
	Reason string
}

// CreateConsultationParams wraps the data required to book a consultation.
type CreateConsultationParams struct {
	UserID            string
	AstrologerID      string
	ScheduledAt       time.Time
	CommunicationType CommunicationType
}

// SendMessageParams wraps the data required to send one chat message.
type SendMessageParams struct {
	ConsultationID string
	Sender         Participant
	Text           string
}
