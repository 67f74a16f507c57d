package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/certicraft/certicraft/models"
	"github.com/google/uuid"
)

type ActivityLogRepository struct {
	db *sql.DB
}

func NewActivityLogRepository(db *sql.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

func (r *ActivityLogRepository) CreateLog(ctx context.Context, entry *models.ActivityLog) error {
	if _, err := uuid.Parse(entry.EventID); err != nil {
		return fmt.Errorf("invalid event ID format: %w", err)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity_logs (id, event_id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.EventID, userID, entry.Action, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}
