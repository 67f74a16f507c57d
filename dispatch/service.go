package dispatch

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/storage"
)

const (
	// DefaultChunkSize bounds how many recipients share one chunk outcome.
	DefaultChunkSize = 50
	// DefaultSpacing is the minimum delay between consecutive submissions,
	// keeping us under provider throughput ceilings without a token bucket.
	DefaultSpacing = 500 * time.Millisecond
)

// CertificateReader is the slice of the certificate repository dispatch
// reads from and writes delivery outcomes to.
type CertificateReader interface {
	GetCertificateByID(ctx context.Context, certificateID string) (*models.Certificate, error)
	GetGeneratedByEventID(ctx context.Context, eventID string) ([]models.Certificate, error)
	UpdateEmailStatus(ctx context.Context, certificateID string, status models.EmailStatus, sentAt *time.Time) error
}

// ParticipantDirectory resolves recipients.
type ParticipantDirectory interface {
	GetParticipantByID(ctx context.Context, participantID string) (*models.Participant, error)
	GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error)
	SetUpdateEmailStatus(ctx context.Context, participantIDs []string, status models.EmailStatus) error
}

// EventDirectory resolves event and organizer names for message bodies.
type EventDirectory interface {
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

// AuditLog records aggregate dispatch outcomes against the event.
type AuditLog interface {
	CreateLog(ctx context.Context, entry *models.ActivityLog) error
}

// Service composes per-recipient messages, pushes them through the relay,
// and transitions delivery statuses. Batch sends are chunked: a chunk either
// passes or fails as a unit, and every certificate in it is marked
// accordingly. There is no per-recipient acknowledgment inside an accepted
// chunk; that coarser guarantee is part of the public status contract.
type Service struct {
	certs        CertificateReader
	participants ParticipantDirectory
	events       EventDirectory
	audit        AuditLog
	store        storage.ContentStore
	relay        Relay
	baseURL      string
	workDir      string
	chunkSize    int
	spacing      time.Duration
	sleep        func(context.Context, time.Duration) // overridable in tests
}

func NewService(
	certs CertificateReader,
	participants ParticipantDirectory,
	events EventDirectory,
	audit AuditLog,
	store storage.ContentStore,
	relay Relay,
	baseURL, workDir string,
) *Service {
	return &Service{
		certs:        certs,
		participants: participants,
		events:       events,
		audit:        audit,
		store:        store,
		relay:        relay,
		baseURL:      baseURL,
		workDir:      workDir,
		chunkSize:    DefaultChunkSize,
		spacing:      DefaultSpacing,
		sleep:        sleepCtx,
	}
}

// SendOne dispatches a single certificate to its participant. On relay
// success the delivery status becomes SENT with a timestamp and an audit
// entry is written; on rejection it becomes FAILED and the relay's error is
// surfaced to the caller.
func (s *Service) SendOne(ctx context.Context, certificateID, userID string) error {
	if err := s.relay.Ready(); err != nil {
		return fmt.Errorf("relay misconfigured: %w", err)
	}

	cert, err := s.certs.GetCertificateByID(ctx, certificateID)
	if err != nil {
		return fmt.Errorf("failed to load certificate %s: %w", certificateID, err)
	}
	// Delivery eligibility mirrors the batch path: a PENDING or FAILED
	// record has no document to send and must not change delivery state.
	if cert.Generation != models.GenerationStatusGenerated {
		return fmt.Errorf("certificate %s is not eligible for dispatch: %w", certificateID, ErrNotGenerated)
	}
	participant, err := s.participants.GetParticipantByID(ctx, cert.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to load participant for certificate %s: %w", certificateID, err)
	}
	event, err := s.events.GetEventByID(ctx, cert.EventID)
	if err != nil {
		return fmt.Errorf("failed to load event for certificate %s: %w", certificateID, err)
	}

	msg, cleanup := s.certificateMessage(ctx, cert, participant, event)
	defer cleanup()

	sendErr := s.relay.Send(ctx, msg)
	now := time.Now().UTC()

	if sendErr != nil {
		if err := s.certs.UpdateEmailStatus(ctx, cert.ID, models.EmailStatusFailed, nil); err != nil {
			log.Printf("ERROR (Dispatch): Failed to record FAILED status for certificate %s: %v", cert.ID, err)
		}
		return sendErr
	}

	if err := s.certs.UpdateEmailStatus(ctx, cert.ID, models.EmailStatusSent, &now); err != nil {
		log.Printf("ERROR (Dispatch): Failed to record SENT status for certificate %s: %v", cert.ID, err)
	}
	s.writeAudit(ctx, cert.EventID, userID, models.ActionSendEmail,
		fmt.Sprintf("Sent certificate email to %s", participant.Name))
	log.Printf("INFO (Dispatch): Sent certificate %s to %s", cert.ID, participant.Email)
	return nil
}

// SendAll dispatches every GENERATED certificate of the event in chunks.
// Returns the number of certificates marked SENT and FAILED.
func (s *Service) SendAll(ctx context.Context, eventID, userID string) (sent, failed int, err error) {
	if err := s.relay.Ready(); err != nil {
		return 0, 0, fmt.Errorf("relay misconfigured: %w", err)
	}

	certs, err := s.certs.GetGeneratedByEventID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list generated certificates for event %s: %w", eventID, err)
	}
	if len(certs) == 0 {
		return 0, 0, nil
	}

	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	participants, err := s.participants.GetParticipantsByEventID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list participants for event %s: %w", eventID, err)
	}
	byID := make(map[string]*models.Participant, len(participants))
	for i := range participants {
		byID[participants[i].ID] = &participants[i]
	}

	type outbound struct {
		cert    models.Certificate
		msg     Message
		cleanup func()
	}

	var batch []outbound
	for _, cert := range certs {
		participant, ok := byID[cert.ParticipantID]
		if !ok {
			log.Printf("WARN (Dispatch): Certificate %s has no participant, skipping", cert.ID)
			continue
		}
		msg, cleanup := s.certificateMessage(ctx, &cert, participant, event)
		batch = append(batch, outbound{cert: cert, msg: msg, cleanup: cleanup})
	}

	now := time.Now().UTC()
	for start := 0; start < len(batch); start += s.chunkSize {
		end := min(start+s.chunkSize, len(batch))
		chunk := batch[start:end]

		msgs := make([]Message, len(chunk))
		for i, o := range chunk {
			msgs[i] = o.msg
		}

		chunkErr := s.sendChunk(ctx, msgs, start > 0)

		// Attachments are released once the chunk's outcome is known,
		// regardless of that outcome.
		for _, o := range chunk {
			o.cleanup()
		}

		status := models.EmailStatusSent
		sentAt := &now
		if chunkErr != nil {
			status = models.EmailStatusFailed
			sentAt = nil
			failed += len(chunk)
			log.Printf("ERROR (Dispatch): Chunk of %d failed for event %s: %v", len(chunk), eventID, chunkErr)
		} else {
			sent += len(chunk)
		}

		for _, o := range chunk {
			if err := s.certs.UpdateEmailStatus(ctx, o.cert.ID, status, sentAt); err != nil {
				log.Printf("ERROR (Dispatch): Failed to record %s status for certificate %s: %v", status, o.cert.ID, err)
			}
		}
	}

	if sent > 0 {
		s.writeAudit(ctx, eventID, userID, models.ActionSendAllEmails,
			fmt.Sprintf("Sent %d certificate emails via batch", sent))
	}
	log.Printf("INFO (Dispatch): Event %s batch send: %d sent, %d failed", eventID, sent, failed)
	return sent, failed, nil
}

// SendUpdates broadcasts a free-form organizer message to every participant
// of the event, following the same chunked contract as certificate sends but
// without attachments.
func (s *Service) SendUpdates(ctx context.Context, eventID, userID, subject, content string) (sent, failed int, err error) {
	if err := s.relay.Ready(); err != nil {
		return 0, 0, fmt.Errorf("relay misconfigured: %w", err)
	}

	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	participants, err := s.participants.GetParticipantsByEventID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list participants for event %s: %w", eventID, err)
	}
	if len(participants) == 0 {
		return 0, 0, nil
	}

	body := updateBody(content, event)

	for start := 0; start < len(participants); start += s.chunkSize {
		end := min(start+s.chunkSize, len(participants))
		chunk := participants[start:end]

		msgs := make([]Message, len(chunk))
		ids := make([]string, len(chunk))
		for i, p := range chunk {
			msgs[i] = Message{To: p.Email, Subject: subject, HTML: body}
			ids[i] = p.ID
		}

		status := models.EmailStatusSent
		if chunkErr := s.sendChunk(ctx, msgs, start > 0); chunkErr != nil {
			status = models.EmailStatusFailed
			failed += len(chunk)
			log.Printf("ERROR (Dispatch): Update chunk of %d failed for event %s: %v", len(chunk), eventID, chunkErr)
		} else {
			sent += len(chunk)
		}

		if err := s.participants.SetUpdateEmailStatus(ctx, ids, status); err != nil {
			log.Printf("ERROR (Dispatch): Failed to record update status for event %s: %v", eventID, err)
		}
	}

	if sent > 0 {
		s.writeAudit(ctx, eventID, userID, models.ActionSendUpdates,
			fmt.Sprintf("Sent update to %d participants", sent))
	}
	return sent, failed, nil
}

// SetChunkSize overrides the relay-imposed chunk size. Values below one are
// ignored.
func (s *Service) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

// SetSpacing overrides the minimum delay between consecutive submissions.
func (s *Service) SetSpacing(d time.Duration) {
	if d >= 0 {
		s.spacing = d
	}
}

// sendChunk submits the chunk's messages sequentially with the configured
// spacing. spaceFirst keeps the minimum gap across chunk boundaries: the
// first message of every chunk after the first is spaced from the last
// message of the previous one. The first rejection fails the whole chunk;
// remaining messages in it are not attempted.
func (s *Service) sendChunk(ctx context.Context, msgs []Message, spaceFirst bool) error {
	for i, msg := range msgs {
		if i > 0 || spaceFirst {
			s.sleep(ctx, s.spacing)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.relay.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// certificateMessage builds the delivery payload for one certificate,
// materializing a remote content reference into a temporary attachment file.
// A missing or unfetchable document downgrades to a message without an
// attachment rather than blocking the send.
func (s *Service) certificateMessage(ctx context.Context, cert *models.Certificate, participant *models.Participant, event *models.Event) (Message, func()) {
	msg := Message{
		To:      participant.Email,
		Subject: fmt.Sprintf("Certificate for %s", event.Name),
		HTML:    s.certificateBody(participant, event, cert.VerificationID),
	}
	cleanup := func() {}

	if cert.FilePath != "" {
		path, release, err := storage.Materialize(ctx, s.store, cert.FilePath, s.workDir, "cert-email-*.pdf")
		if err != nil {
			log.Printf("WARN (Dispatch): Failed to materialize attachment for certificate %s: %v", cert.ID, err)
		} else {
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename: fmt.Sprintf("certificate_%s.pdf", cert.ID),
				Path:     path,
			})
			cleanup = release
		}
	}
	return msg, cleanup
}

func (s *Service) certificateBody(participant *models.Participant, event *models.Event, verificationID string) string {
	verifyURL := fmt.Sprintf("%s/verify/%s", s.baseURL, verificationID)
	return fmt.Sprintf(`
		<div style="font-family: sans-serif; padding: 20px;">
			<h2>Congratulations %s!</h2>
			<p>You have successfully completed <strong>%s</strong>.</p>
			<p>You can verify your certificate at:
				<a href="%s">Verification Link</a>
			</p>
			<p>Best regards,<br/>The CertiCraft Team</p>
		</div>`,
		html.EscapeString(participant.Name), html.EscapeString(event.Name), verifyURL)
}

func updateBody(content string, event *models.Event) string {
	escaped := strings.ReplaceAll(html.EscapeString(content), "\n", "<br/>")
	return fmt.Sprintf(`
		<div style="font-family: sans-serif; padding: 20px;">
			<p>%s</p>
			<hr/>
			<p>Best regards,<br/>%s<br/><em>%s Organizer</em></p>
		</div>`,
		escaped, html.EscapeString(event.OrganizerName), html.EscapeString(event.Name))
}

func (s *Service) writeAudit(ctx context.Context, eventID, userID, action, details string) {
	entry := &models.ActivityLog{
		EventID: eventID,
		UserID:  userID,
		Action:  action,
		Details: details,
	}
	if err := s.audit.CreateLog(ctx, entry); err != nil {
		log.Printf("WARN (Dispatch): Failed to write audit entry for event %s: %v", eventID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
