package dispatch

import (
	"context"
	"errors"
)

// ErrMissingCredentials is returned when the relay has no usable
// authentication configured. Dispatch operations check for it up front and
// abort before touching any delivery status.
var ErrMissingCredentials = errors.New("missing relay credentials")

// ErrNotGenerated is returned when a dispatch is requested for a
// certificate whose document does not exist yet. Only GENERATED records are
// eligible for delivery.
var ErrNotGenerated = errors.New("certificate has not been generated")

// Attachment is a file attached to an outbound message. The relay boundary
// consumes file paths, so remote content references are materialized into
// temporary files before message composition.
type Attachment struct {
	Filename string
	Path     string
}

// Message is one outbound email-shaped payload.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Relay is the external message-sending boundary. Implementations are
// constructed once at process start and injected, never reached through
// package-level state, so tests can substitute a mock.
type Relay interface {
	// Ready reports whether the relay is usable at all (credentials
	// present). Called before any batch mutates delivery state.
	Ready() error
	// Send submits one message. A returned error is a relay rejection.
	Send(ctx context.Context, msg Message) error
}
