package models

import "time"

type Event struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OrganizerID   string    `json:"organizer_id"`
	OrganizerName string    `json:"organizer_name"`
	CreatedAt     time.Time `json:"created_at"`
}
