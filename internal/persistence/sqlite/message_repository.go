package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/astro-consult/internal/persistence"
)

// MessageRepository implements persistence.MessageRepository on SQLite.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository returns a repository bound to the given database.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// AppendMessage appends one message to the consultation's thread, creating
// the thread row on first use. The insert is a single statement, so two
// concurrent appends to the same thread serialise at the storage layer
// instead of racing through a read-modify-write.
func (r *MessageRepository) AppendMessage(ctx context.Context, message persistence.Message) (persistence.Message, error) {
	if message.ID == "" || message.ConsultationID == "" {
		return persistence.Message{}, persistence.ErrConstraintViolation
	}

	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_threads (consultation_id, created_at) VALUES (?, ?)`,
			message.ConsultationID, formatTime(message.CreatedAt),
		)
		if err != nil {
			return mapError(err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, consultation_id, sender_id, sender_role, receiver_id, receiver_role, ciphertext, iv, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			message.ID,
			message.ConsultationID,
			message.SenderID,
			message.SenderRole,
			message.ReceiverID,
			message.ReceiverRole,
			message.Ciphertext,
			message.IV,
			formatTime(message.CreatedAt),
		)
		if err != nil {
			return mapError(err)
		}

		return nil
	})
	if err != nil {
		return persistence.Message{}, err
	}

	return message, nil
}

// ListMessages returns the consultation's full thread in append order.
func (r *MessageRepository) ListMessages(ctx context.Context, consultationID string) ([]persistence.Message, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT id, consultation_id, sender_id, sender_role, receiver_id, receiver_role, ciphertext, iv, created_at
		 FROM messages WHERE consultation_id = ? ORDER BY seq`,
		consultationID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var messages []persistence.Message
	for rows.Next() {
		var (
			message   persistence.Message
			createdAt string
		)
		err := rows.Scan(
			&message.ID,
			&message.ConsultationID,
			&message.SenderID,
			&message.SenderRole,
			&message.ReceiverID,
			&message.ReceiverRole,
			&message.Ciphertext,
			&message.IV,
			&createdAt,
		)
		if err != nil {
			return nil, mapError(err)
		}
		if message.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return messages, nil
}
