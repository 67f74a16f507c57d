package processing

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/storage"
)

// fakeCertificateStore keeps certificate records in memory, keyed by
// participant ID the way the unique constraint keys them.
type fakeCertificateStore struct {
	mu      sync.Mutex
	byPart  map[string]*models.Certificate
	created int
}

func newFakeCertificateStore() *fakeCertificateStore {
	return &fakeCertificateStore{byPart: map[string]*models.Certificate{}}
}

func (f *fakeCertificateStore) GetOrCreate(ctx context.Context, participantID, eventID string) (*models.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cert, ok := f.byPart[participantID]; ok {
		copied := *cert
		return &copied, nil
	}
	cert := &models.Certificate{
		ID:             uuid.NewString(),
		VerificationID: uuid.NewString(),
		ParticipantID:  participantID,
		EventID:        eventID,
		Generation:     models.GenerationStatusPending,
		Email:          models.EmailStatusNotSent,
		CreatedAt:      time.Now().UTC(),
	}
	f.byPart[participantID] = cert
	f.created++
	copied := *cert
	return &copied, nil
}

func (f *fakeCertificateStore) MarkGenerated(ctx context.Context, certificateID, filePath string, generatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cert := range f.byPart {
		if cert.ID == certificateID {
			cert.Generation = models.GenerationStatusGenerated
			cert.FilePath = filePath
			cert.GeneratedAt = &generatedAt
			cert.ErrorMessage = ""
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeCertificateStore) MarkGenerationFailed(ctx context.Context, certificateID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cert := range f.byPart {
		if cert.ID == certificateID {
			cert.Generation = models.GenerationStatusFailed
			cert.ErrorMessage = reason
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeCertificateStore) get(participantID string) *models.Certificate {
	f.mu.Lock()
	defer f.mu.Unlock()
	cert := f.byPart[participantID]
	if cert == nil {
		return nil
	}
	copied := *cert
	return &copied
}

type fakeParticipantStore struct {
	participants []models.Participant
}

func (f *fakeParticipantStore) GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error) {
	return f.participants, nil
}

type fakeTemplateStore struct {
	template *models.Template
}

func (f *fakeTemplateStore) GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error) {
	if f.template == nil {
		return nil, sql.ErrNoRows
	}
	return f.template, nil
}

type fakeAuditLog struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (f *fakeAuditLog) CreateLog(ctx context.Context, entry *models.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func writeTemplateImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(t.TempDir(), "template.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func newParticipants(eventID string, n int) []models.Participant {
	participants := make([]models.Participant, n)
	for i := range participants {
		participants[i] = models.Participant{
			ID:      uuid.NewString(),
			EventID: eventID,
			Name:    fmt.Sprintf("Participant %d", i+1),
			Email:   fmt.Sprintf("p%d@example.com", i+1),
		}
	}
	return participants
}

func intPtr(i int) *int { return &i }

type coordinatorFixture struct {
	coordinator *GenerationCoordinator
	certs       *fakeCertificateStore
	audit       *fakeAuditLog
	eventID     string
	parts       []models.Participant
}

func newCoordinatorFixture(t *testing.T, template *models.Template, n int) *coordinatorFixture {
	t.Helper()
	eventID := uuid.NewString()
	certs := newFakeCertificateStore()
	audit := &fakeAuditLog{}
	parts := newParticipants(eventID, n)

	store := storage.NewLocalFileStore(t.TempDir())
	renderer := NewCertificateRenderer(certs, store, "https://certs.example.com", "")
	coordinator := NewGenerationCoordinator(
		&fakeParticipantStore{participants: parts},
		&fakeTemplateStore{template: template},
		certs,
		audit,
		renderer,
		2,
	)
	return &coordinatorFixture{
		coordinator: coordinator,
		certs:       certs,
		audit:       audit,
		eventID:     eventID,
		parts:       parts,
	}
}

func TestGenerateAllCreatesCertificatesForEveryParticipant(t *testing.T) {
	template := &models.Template{
		EventID:   uuid.NewString(),
		FilePath:  writeTemplateImage(t),
		FontSize:  models.DefaultFontSize,
		FontColor: models.DefaultFontColor,
		QRX:       intPtr(250),
		QRY:       intPtr(150),
		QRSize:    40,
	}
	fx := newCoordinatorFixture(t, template, 3)

	attempted, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, attempted)
	assert.Equal(t, 3, created)

	for _, p := range fx.parts {
		cert := fx.certs.get(p.ID)
		require.NotNil(t, cert)
		assert.Equal(t, models.GenerationStatusGenerated, cert.Generation)
		assert.NotEmpty(t, cert.FilePath)
		assert.NotNil(t, cert.GeneratedAt)
		assert.Empty(t, cert.ErrorMessage)

		// The stored document is a real PDF.
		data, readErr := os.ReadFile(cert.FilePath)
		require.NoError(t, readErr)
		assert.Equal(t, "%PDF-", string(data[:5]))
	}

	require.Len(t, fx.audit.entries, 1)
	assert.Equal(t, models.ActionGenerateCertificates, fx.audit.entries[0].Action)
	assert.Equal(t, "Generated 3 certificates", fx.audit.entries[0].Details)
	assert.Equal(t, "user-1", fx.audit.entries[0].UserID)
}

func TestGenerateAllIsIdempotent(t *testing.T) {
	template := &models.Template{
		EventID:  uuid.NewString(),
		FilePath: writeTemplateImage(t),
	}
	fx := newCoordinatorFixture(t, template, 2)

	_, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "")
	require.NoError(t, err)
	require.Equal(t, 2, created)

	firstPaths := map[string]string{}
	for _, p := range fx.parts {
		firstPaths[p.ID] = fx.certs.get(p.ID).FilePath
	}

	attempted, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, attempted)
	assert.Equal(t, 0, created, "generated certificates must not be redone")

	for _, p := range fx.parts {
		assert.Equal(t, firstPaths[p.ID], fx.certs.get(p.ID).FilePath, "existing documents must be untouched")
	}

	// No audit entry for a run that generated nothing.
	assert.Len(t, fx.audit.entries, 1)
}

func TestGenerateAllWithoutTemplateMarksEveryRecordFailed(t *testing.T) {
	fx := newCoordinatorFixture(t, nil, 3)

	attempted, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "user-1")
	require.NoError(t, err, "a missing template fails records, not the batch")
	assert.Equal(t, 3, attempted)
	assert.Equal(t, 0, created)

	for _, p := range fx.parts {
		cert := fx.certs.get(p.ID)
		require.NotNil(t, cert)
		assert.Equal(t, models.GenerationStatusFailed, cert.Generation)
		assert.Equal(t, "Template not found", cert.ErrorMessage)
	}

	assert.Empty(t, fx.audit.entries)
}

func TestGenerateAllRetriesFailedRecords(t *testing.T) {
	fx := newCoordinatorFixture(t, nil, 2)

	_, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "")
	require.NoError(t, err)
	require.Equal(t, 0, created)

	// Configure a template and re-run: the FAILED records recover.
	fx.coordinator.templates = &fakeTemplateStore{template: &models.Template{
		EventID:  fx.eventID,
		FilePath: writeTemplateImage(t),
	}}

	_, created, err = fx.coordinator.GenerateAll(context.Background(), fx.eventID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	for _, p := range fx.parts {
		cert := fx.certs.get(p.ID)
		assert.Equal(t, models.GenerationStatusGenerated, cert.Generation)
		assert.Empty(t, cert.ErrorMessage, "recovery clears the recorded failure")
	}
}

func TestGenerateAllUnreadableTemplateImage(t *testing.T) {
	template := &models.Template{
		EventID:  uuid.NewString(),
		FilePath: filepath.Join(t.TempDir(), "missing.png"),
	}
	fx := newCoordinatorFixture(t, template, 1)

	_, created, err := fx.coordinator.GenerateAll(context.Background(), fx.eventID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	cert := fx.certs.get(fx.parts[0].ID)
	assert.Equal(t, models.GenerationStatusFailed, cert.Generation)
	assert.Contains(t, cert.ErrorMessage, "failed to materialize template")
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	var locks keyLock
	var active, maxActive int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("same")
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "holders of the same key must not overlap")

	locks.mu.Lock()
	assert.Empty(t, locks.entries, "entries must be dropped after the last release")
	locks.mu.Unlock()
}

func TestKeyLockDistinctKeysDoNotBlock(t *testing.T) {
	var locks keyLock

	releaseA := locks.acquire("a")
	done := make(chan struct{})
	go func() {
		releaseB := locks.acquire("b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring a distinct key blocked behind an unrelated holder")
	}
	releaseA()
}
