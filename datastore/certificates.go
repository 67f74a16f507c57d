package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/certicraft/certicraft/models"
	"github.com/google/uuid"
)

type CertificateRepository struct {
	db *sql.DB
}

func NewCertificateRepository(db *sql.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `
	id, verification_id, participant_id, event_id, generation_status,
	error_message, file_path, generated_at, email_status, email_sent_at, created_at
`

// GetOrCreate returns the certificate for a participant+event pair, creating
// a PENDING record with a fresh verification identifier if none exists. The
// insert relies on the UNIQUE(participant_id, event_id) constraint, so two
// concurrent triggers for the same participant converge on one record
// instead of racing a read-then-write.
func (r *CertificateRepository) GetOrCreate(ctx context.Context, participantID, eventID string) (*models.Certificate, error) {
	if _, err := uuid.Parse(participantID); err != nil {
		return nil, fmt.Errorf("invalid participant ID format: %w", err)
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	insert := `
		INSERT INTO certificates (
			id, verification_id, participant_id, event_id,
			generation_status, email_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (participant_id, event_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, insert,
		uuid.NewString(), uuid.NewString(), participantID, eventID,
		string(models.GenerationStatusPending), string(models.EmailStatusNotSent), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert certificate: %w", err)
	}

	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE participant_id = $1 AND event_id = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, participantID, eventID))
}

func (r *CertificateRepository) GetCertificateByID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	if _, err := uuid.Parse(certificateID); err != nil {
		return nil, fmt.Errorf("invalid certificate ID format: %w", err)
	}

	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, certificateID))
}

// GetCertificateByVerificationID is the public verification lookup. The
// verification identifier is opaque, so no format validation applies.
func (r *CertificateRepository) GetCertificateByVerificationID(ctx context.Context, verificationID string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE verification_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, verificationID))
}

func (r *CertificateRepository) GetCertificatesByEventID(ctx context.Context, eventID string) ([]models.Certificate, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE event_id = $1
		ORDER BY created_at
	`
	return r.queryMany(ctx, query, eventID)
}

// GetGeneratedByEventID returns the certificates eligible for dispatch.
func (r *CertificateRepository) GetGeneratedByEventID(ctx context.Context, eventID string) ([]models.Certificate, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event ID format: %w", err)
	}

	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE event_id = $1 AND generation_status = $2
		ORDER BY created_at
	`
	return r.queryMany(ctx, query, eventID, string(models.GenerationStatusGenerated))
}

// MarkGenerated records a successful render: the content reference and
// timestamp are set together with the terminal status, so a GENERATED row
// always carries a non-null file path.
func (r *CertificateRepository) MarkGenerated(ctx context.Context, certificateID, filePath string, generatedAt time.Time) error {
	query := `
		UPDATE certificates
		SET generation_status = $2, file_path = $3, generated_at = $4, error_message = NULL
		WHERE id = $1
	`
	return r.execOne(ctx, query, certificateID, string(models.GenerationStatusGenerated), filePath, generatedAt)
}

// MarkGenerationFailed records a failed attempt with the underlying error
// message captured verbatim. The next generation run will retry this record.
func (r *CertificateRepository) MarkGenerationFailed(ctx context.Context, certificateID, reason string) error {
	query := `
		UPDATE certificates
		SET generation_status = $2, error_message = $3
		WHERE id = $1
	`
	return r.execOne(ctx, query, certificateID, string(models.GenerationStatusFailed), reason)
}

func (r *CertificateRepository) UpdateEmailStatus(ctx context.Context, certificateID string, status models.EmailStatus, sentAt *time.Time) error {
	query := `
		UPDATE certificates
		SET email_status = $2, email_sent_at = COALESCE($3, email_sent_at)
		WHERE id = $1
	`
	return r.execOne(ctx, query, certificateID, string(status), sentAt)
}

func (r *CertificateRepository) execOne(ctx context.Context, query, certificateID string, args ...any) error {
	if _, err := uuid.Parse(certificateID); err != nil {
		return fmt.Errorf("invalid certificate ID format: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, append([]any{certificateID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update certificate %s: %w", certificateID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return fmt.Errorf("certificate not found for update: %w", sql.ErrNoRows)
	}
	return nil
}

func (r *CertificateRepository) queryMany(ctx context.Context, query string, args ...any) ([]models.Certificate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var certs []models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, *cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate certificates: %w", err)
	}
	return certs, nil
}

func (r *CertificateRepository) scanOne(row *sql.Row) (*models.Certificate, error) {
	cert, err := scanCertificate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return cert, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var cert models.Certificate
	var generationStr, emailStr string
	var errorMessage, filePath sql.NullString

	err := row.Scan(
		&cert.ID, &cert.VerificationID, &cert.ParticipantID, &cert.EventID, &generationStr,
		&errorMessage, &filePath, &cert.GeneratedAt, &emailStr, &cert.EmailSentAt, &cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cert.Generation = models.GenerationStatus(generationStr)
	cert.Email = models.EmailStatus(emailStr)
	cert.ErrorMessage = errorMessage.String
	cert.FilePath = filePath.String
	return &cert, nil
}
