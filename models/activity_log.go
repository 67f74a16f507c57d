package models

import "time"

// Audit actions recorded against an event.
const (
	ActionGenerateCertificates = "GENERATE_CERTIFICATES"
	ActionSendEmail            = "SEND_EMAIL"
	ActionSendAllEmails        = "SEND_ALL_EMAILS"
	ActionSendUpdates          = "SEND_UPDATES"
)

type ActivityLog struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
