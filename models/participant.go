package models

import "time"

type Participant struct {
	ID                string      `json:"id"`
	EventID           string      `json:"event_id"`
	Name              string      `json:"name"`
	Email             string      `json:"email"`
	UpdateEmailStatus EmailStatus `json:"update_email_status"`
	CreatedAt         time.Time   `json:"created_at"`
}
