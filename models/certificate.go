package models

import "time"

// GenerationStatus defines the set of persisted generation states for a Certificate.
type GenerationStatus string

const (
	GenerationStatusPending   GenerationStatus = "PENDING"
	GenerationStatusGenerated GenerationStatus = "GENERATED"
	GenerationStatusFailed    GenerationStatus = "FAILED"

	// GenerationStatusNotGenerated is a view-only state reported for
	// participants that have no certificate record yet. Never persisted.
	GenerationStatusNotGenerated GenerationStatus = "NOT_GENERATED"
)

// EmailStatus defines the set of persisted delivery states for a Certificate.
// A transient "sending" state shown by clients is deliberately not part of
// this set; the persisted machine only ever holds NOT_SENT, SENT or FAILED.
type EmailStatus string

const (
	EmailStatusNotSent EmailStatus = "NOT_SENT"
	EmailStatusSent    EmailStatus = "SENT"
	EmailStatusFailed  EmailStatus = "FAILED"
)

type Certificate struct {
	ID             string           `json:"id"`
	VerificationID string           `json:"verification_id"`
	ParticipantID  string           `json:"participant_id"`
	EventID        string           `json:"event_id"`
	Generation     GenerationStatus `json:"generation_status"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	FilePath       string           `json:"file_path,omitempty"`
	GeneratedAt    *time.Time       `json:"generated_at,omitempty"`
	Email          EmailStatus      `json:"email_status"`
	EmailSentAt    *time.Time       `json:"email_sent_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ParticipantStatus is the per-participant row of the event status view.
// Participants without a certificate record report NOT_GENERATED/NOT_SENT.
type ParticipantStatus struct {
	CertificateID   string           `json:"id,omitempty"`
	ParticipantID   string           `json:"participant_id"`
	ParticipantName string           `json:"participant_name"`
	Email           string           `json:"email"`
	Generation      GenerationStatus `json:"generation_status"`
	EmailStatus     EmailStatus      `json:"email_status"`
	VerificationID  string           `json:"verification_id,omitempty"`
	GeneratedAt     *time.Time       `json:"generated_at,omitempty"`
}

// Verification is the public lookup result for a verification identifier.
// It intentionally exposes no internal IDs and no content reference.
type Verification struct {
	ParticipantName string     `json:"participant_name"`
	EventName       string     `json:"event_name"`
	OrganizerName   string     `json:"organizer_name"`
	GeneratedAt     *time.Time `json:"generated_at,omitempty"`
	VerificationID  string     `json:"verification_id"`
}
