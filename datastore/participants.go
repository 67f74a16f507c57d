package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certicraft/certicraft/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ParticipantRepository struct {
	db *sql.DB
}

func NewParticipantRepository(db *sql.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	query := `
		SELECT id, event_id, name, email, update_email_status, created_at
		FROM participants
		WHERE event_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var updateStatus string
		if err := rows.Scan(&p.ID, &p.EventID, &p.Name, &p.Email, &updateStatus, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.UpdateEmailStatus = models.EmailStatus(updateStatus)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

func (r *ParticipantRepository) GetParticipantByID(ctx context.Context, participantID string) (*models.Participant, error) {
	if _, err := uuid.Parse(participantID); err != nil {
		return nil, fmt.Errorf("invalid participant ID format: %w", err)
	}

	query := `
		SELECT id, event_id, name, email, update_email_status, created_at
		FROM participants
		WHERE id = $1
	`
	var p models.Participant
	var updateStatus string
	err := r.db.QueryRowContext(ctx, query, participantID).Scan(
		&p.ID, &p.EventID, &p.Name, &p.Email, &updateStatus, &p.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get participant by ID: %w", err)
	}
	p.UpdateEmailStatus = models.EmailStatus(updateStatus)
	return &p, nil
}

// SetUpdateEmailStatus records the outcome of an organizer broadcast for
// every listed participant in one statement.
func (r *ParticipantRepository) SetUpdateEmailStatus(ctx context.Context, participantIDs []string, status models.EmailStatus) error {
	if len(participantIDs) == 0 {
		return nil
	}
	for _, id := range participantIDs {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("invalid participant ID format: %w", err)
		}
	}

	query := `UPDATE participants SET update_email_status = $1 WHERE id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, string(status), pq.Array(participantIDs)); err != nil {
		return fmt.Errorf("failed to update broadcast status: %w", err)
	}
	return nil
}
