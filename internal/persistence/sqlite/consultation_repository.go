package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/astro-consult/internal/persistence"
)

// ConsultationRepository implements persistence.ConsultationRepository on SQLite.
type ConsultationRepository struct {
	db *DB
}

// NewConsultationRepository returns a repository bound to the given database.
func NewConsultationRepository(db *DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

const consultationColumns = `id, user_id, astrologer_id, scheduled_at, status, communication_type,
	user_public_key, astrologer_public_key, shared_secret, created_at, updated_at`

// CreateConsultation inserts a new consultation record.
func (r *ConsultationRepository) CreateConsultation(ctx context.Context, consultation persistence.Consultation) error {
	if consultation.ID == "" {
		return persistence.ErrConstraintViolation
	}

	query := fmt.Sprintf(`INSERT INTO consultations (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, consultationColumns)

	_, err := r.db.Conn().ExecContext(ctx, query,
		consultation.ID,
		consultation.UserID,
		consultation.AstrologerID,
		formatTime(consultation.ScheduledAt),
		consultation.Status,
		consultation.CommunicationType,
		consultation.UserPublicKey,
		consultation.AstrologerPublicKey,
		consultation.SharedSecret,
		formatTime(consultation.CreatedAt),
		formatTime(consultation.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}

	return nil
}

// GetConsultation retrieves one consultation by id.
func (r *ConsultationRepository) GetConsultation(ctx context.Context, id string) (persistence.Consultation, error) {
	query := fmt.Sprintf(`SELECT %s FROM consultations WHERE id = ?`, consultationColumns)
	return scanConsultation(r.db.Conn().QueryRowContext(ctx, query, id))
}

// ListConsultationsForParticipant returns every consultation the participant
// takes part in, on either side, ordered by scheduled time.
func (r *ConsultationRepository) ListConsultationsForParticipant(ctx context.Context, participantID string) ([]persistence.Consultation, error) {
	query := fmt.Sprintf(`SELECT %s FROM consultations
		WHERE user_id = ? OR astrologer_id = ?
		ORDER BY scheduled_at, id`, consultationColumns)

	rows, err := r.db.Conn().QueryContext(ctx, query, participantID, participantID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var consultations []persistence.Consultation
	for rows.Next() {
		consultation, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		consultations = append(consultations, consultation)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return consultations, nil
}

// TransitionStatus conditionally moves the consultation to a new status. The
// guard on the current status is part of the UPDATE itself, so concurrent
// transitions cannot interleave destructively.
func (r *ConsultationRepository) TransitionStatus(ctx context.Context, id string, from []string, to string, at time.Time) error {
	if len(from) == 0 {
		return persistence.ErrInvalidState
	}

	placeholders := strings.Repeat("?, ", len(from)-1) + "?"
	query := fmt.Sprintf(`UPDATE consultations SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)`, placeholders)

	args := []any{to, formatTime(at), id}
	for _, status := range from {
		args = append(args, status)
	}

	result, err := r.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing record from one in the wrong state.
	var current string
	err = r.db.Conn().QueryRowContext(ctx, `SELECT status FROM consultations WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.ErrNotFound
		}
		return mapError(err)
	}

	return persistence.ErrInvalidState
}

// MarkDueLive advances all due scheduled consultations to live in one
// batched conditional update.
func (r *ConsultationRepository) MarkDueLive(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Conn().ExecContext(ctx,
		`UPDATE consultations SET status = 'live', updated_at = ?
		 WHERE status = 'scheduled' AND scheduled_at <= ?`,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, mapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsultation(row rowScanner) (persistence.Consultation, error) {
	var (
		consultation persistence.Consultation
		scheduledAt  string
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&consultation.ID,
		&consultation.UserID,
		&consultation.AstrologerID,
		&scheduledAt,
		&consultation.Status,
		&consultation.CommunicationType,
		&consultation.UserPublicKey,
		&consultation.AstrologerPublicKey,
		&consultation.SharedSecret,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Consultation{}, persistence.ErrNotFound
		}
		return persistence.Consultation{}, mapError(err)
	}

	if consultation.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return persistence.Consultation{}, err
	}
	if consultation.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Consultation{}, err
	}
	if consultation.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Consultation{}, err
	}

	return consultation, nil
}

// formatTime stores timestamps as second-precision RFC 3339 UTC strings.
// The fixed width keeps lexicographic comparison equal to time order, which
// MarkDueLive's scheduled_at filter relies on.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}
