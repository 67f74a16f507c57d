package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/certicraft/certicraft/models"
	"github.com/google/uuid"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// GetTemplateByEventID returns the event's template configuration.
// Each event has at most one template row.
func (r *TemplateRepository) GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	query := `
		SELECT id, event_id, original_name, file_path, name_x, name_y,
		       font_size, font_color, qr_x, qr_y, qr_size, created_at
		FROM templates
		WHERE event_id = $1
	`
	var t models.Template
	var originalName sql.NullString
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&t.ID, &t.EventID, &originalName, &t.FilePath, &t.NameX, &t.NameY,
		&t.FontSize, &t.FontColor, &t.QRX, &t.QRY, &t.QRSize, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get template for event %s: %w", eventID, err)
	}
	t.OriginalName = originalName.String
	return &t, nil
}

// UpsertTemplate writes the layout configuration for an event, creating the
// row when the event has no template yet. The one-template-per-event rule is
// enforced by the unique constraint on event_id.
func (r *TemplateRepository) UpsertTemplate(ctx context.Context, t *models.Template) error {
	if _, err := uuid.Parse(t.EventID); err != nil {
		return fmt.Errorf("invalid event ID format: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO templates (
			id, event_id, original_name, file_path, name_x, name_y,
			font_size, font_color, qr_x, qr_y, qr_size, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO UPDATE SET
			original_name = EXCLUDED.original_name,
			file_path = EXCLUDED.file_path,
			name_x = EXCLUDED.name_x,
			name_y = EXCLUDED.name_y,
			font_size = EXCLUDED.font_size,
			font_color = EXCLUDED.font_color,
			qr_x = EXCLUDED.qr_x,
			qr_y = EXCLUDED.qr_y,
			qr_size = EXCLUDED.qr_size
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.EventID, t.OriginalName, t.FilePath, t.NameX, t.NameY,
		t.FontSize, t.FontColor, t.QRX, t.QRY, t.QRSize, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template for event %s: %w", t.EventID, err)
	}
	return nil
}

func (r *TemplateRepository) DeleteTemplateByEventID(ctx context.Context, eventID string) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return fmt.Errorf("invalid event ID format: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to delete template for event %s: %w", eventID, err)
	}
	return nil
}
