package models

import "time"

// Template holds the per-event certificate layout configuration.
// All coordinates are in the original template image's pixel space, never in
// a scaled preview space: callers must map any UI-relative coordinates back
// to source pixels before persisting. Anchor coordinates are nullable so
// (0,0) stays a valid corner anchor: a nil pair means "unset", which centers
// the name and skips the QR symbol.
type Template struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	OriginalName string    `json:"original_name,omitempty"`
	FilePath     string    `json:"file_path"` // local path or remote URL of the base image
	NameX        *int      `json:"name_x,omitempty"`
	NameY        *int      `json:"name_y,omitempty"`
	FontSize     float64   `json:"font_size"`
	FontColor    string    `json:"font_color"` // hex string, e.g. "#1a1a1a"
	QRX          *int      `json:"qr_x,omitempty"`
	QRY          *int      `json:"qr_y,omitempty"`
	QRSize       int       `json:"qr_size"`
	CreatedAt    time.Time `json:"created_at"`
}

// Layout defaults applied when a template row leaves styling unset.
const (
	DefaultFontSize  = 40.0
	DefaultFontColor = "#000000"
	DefaultQRSize    = 100
)
