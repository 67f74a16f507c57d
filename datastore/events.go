package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certicraft/certicraft/models"
	"github.com/google/uuid"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	query := `
		SELECT id, name, organizer_id, organizer_name, created_at
		FROM events
		WHERE id = $1
	`
	var event models.Event
	var organizerID sql.NullString
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.ID, &event.Name, &organizerID, &event.OrganizerName, &event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}
	event.OrganizerID = organizerID.String
	return &event, nil
}
