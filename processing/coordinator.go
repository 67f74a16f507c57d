package processing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/certicraft/certicraft/models"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// ParticipantStore lists the participants eligible for certificate
// generation.
type ParticipantStore interface {
	GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error)
}

// TemplateStore resolves the event's layout configuration.
type TemplateStore interface {
	GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error)
}

// AuditLog records aggregate outcomes against the event.
type AuditLog interface {
	CreateLog(ctx context.Context, entry *models.ActivityLog) error
}

// GenerationCoordinator runs certificate generation across every participant
// of an event with bounded concurrency. One participant's failure never
// aborts the batch; it is recorded on that participant's certificate only.
type GenerationCoordinator struct {
	participants ParticipantStore
	templates    TemplateStore
	certs        CertificateStore
	audit        AuditLog
	renderer     *CertificateRenderer
	workers      int
	locks        keyLock
}

func NewGenerationCoordinator(
	participants ParticipantStore,
	templates TemplateStore,
	certs CertificateStore,
	audit AuditLog,
	renderer *CertificateRenderer,
	workers int,
) *GenerationCoordinator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &GenerationCoordinator{
		participants: participants,
		templates:    templates,
		certs:        certs,
		audit:        audit,
		renderer:     renderer,
		workers:      workers,
	}
}

// GenerateAll attempts generation for every participant of the event.
// Already-GENERATED records are skipped, which makes repeated invocation
// safe: re-running after adding participants, or after a partial failure,
// converges toward completion without redoing finished work. Returns the
// number of participants visited and the number of newly created successes.
func (c *GenerationCoordinator) GenerateAll(ctx context.Context, eventID, userID string) (attempted, created int, err error) {
	participants, err := c.participants.GetParticipantsByEventID(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list participants for event %s: %w", eventID, err)
	}

	template, err := c.templates.GetTemplateByEventID(ctx, eventID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("failed to load template for event %s: %w", eventID, err)
	}
	// A missing template is not fatal for the batch: every record is marked
	// FAILED individually so the status view explains itself.

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range participants {
		p := participants[i]
		g.Go(func() error {
			if c.generateOne(gctx, &p, template) {
				mu.Lock()
				created++
				mu.Unlock()
			}
			return nil
		})
	}

	// Workers never return errors; failures live on the individual records.
	_ = g.Wait()
	attempted = len(participants)

	if created > 0 {
		entry := &models.ActivityLog{
			EventID: eventID,
			UserID:  userID,
			Action:  models.ActionGenerateCertificates,
			Details: fmt.Sprintf("Generated %d certificates", created),
		}
		if logErr := c.audit.CreateLog(ctx, entry); logErr != nil {
			log.Printf("WARN (GenerationCoordinator): Failed to write audit entry for event %s: %v", eventID, logErr)
		}
	}

	log.Printf("INFO (GenerationCoordinator): Event %s: attempted %d participants, %d newly generated", eventID, attempted, created)
	return attempted, created, nil
}

// generateOne serializes the check-then-act sequence per certificate record
// so concurrent triggers cannot generate the same document twice or race the
// status field. Returns true when a new document was generated.
func (c *GenerationCoordinator) generateOne(ctx context.Context, p *models.Participant, template *models.Template) bool {
	release := c.locks.acquire(p.ID)
	defer release()

	cert, err := c.certs.GetOrCreate(ctx, p.ID, p.EventID)
	if err != nil {
		log.Printf("ERROR (GenerationCoordinator): Failed to get or create certificate for participant %s: %v", p.ID, err)
		return false
	}

	// Generation is idempotent-complete: never regenerate a GENERATED record.
	if cert.Generation == models.GenerationStatusGenerated {
		return false
	}

	if err := c.renderer.Render(ctx, p, template, cert); err != nil {
		log.Printf("WARN (GenerationCoordinator): Certificate %s for participant %s failed: %v", cert.ID, p.ID, err)
		return false
	}
	return true
}

// keyLock hands out one mutex per key, dropping entries when the last
// holder releases.
type keyLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLock) acquire(key string) (release func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*lockEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
