package routehandlers

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certicraft/certicraft/dispatch"
	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/storage"
	"github.com/certicraft/certicraft/webutil"
)

func withChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type stubCerts struct {
	byID             map[string]*models.Certificate
	byVerificationID map[string]*models.Certificate
	byEvent          []models.Certificate
}

func (s *stubCerts) GetCertificateByID(ctx context.Context, id string) (*models.Certificate, error) {
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubCerts) GetCertificateByVerificationID(ctx context.Context, id string) (*models.Certificate, error) {
	if c, ok := s.byVerificationID[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubCerts) GetCertificatesByEventID(ctx context.Context, eventID string) ([]models.Certificate, error) {
	return s.byEvent, nil
}

func (s *stubCerts) GetGeneratedByEventID(ctx context.Context, eventID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, c := range s.byEvent {
		if c.Generation == models.GenerationStatusGenerated {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubParticipants struct {
	participants []models.Participant
}

func (s *stubParticipants) GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error) {
	return s.participants, nil
}

func (s *stubParticipants) GetParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	for i := range s.participants {
		if s.participants[i].ID == id {
			return &s.participants[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type stubEvents struct {
	event *models.Event
}

func (s *stubEvents) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	if s.event == nil {
		return nil, sql.ErrNoRows
	}
	return s.event, nil
}

type stubTemplates struct {
	template *models.Template
}

func (s *stubTemplates) GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error) {
	if s.template == nil {
		return nil, sql.ErrNoRows
	}
	return s.template, nil
}

type stubGenerator struct {
	attempted, created int
	calledEventID      string
	calledUserID       string
}

func (s *stubGenerator) GenerateAll(ctx context.Context, eventID, userID string) (int, int, error) {
	s.calledEventID = eventID
	s.calledUserID = userID
	return s.attempted, s.created, nil
}

type stubDispatcher struct {
	sendOneErr   error
	sent, failed int
}

func (s *stubDispatcher) SendOne(ctx context.Context, certificateID, userID string) error {
	return s.sendOneErr
}

func (s *stubDispatcher) SendAll(ctx context.Context, eventID, userID string) (int, int, error) {
	return s.sent, s.failed, nil
}

func (s *stubDispatcher) SendUpdates(ctx context.Context, eventID, userID, subject, content string) (int, int, error) {
	return s.sent, s.failed, nil
}

type stubPreviewer struct {
	gotTemplate *models.Template
}

func (s *stubPreviewer) Preview(ctx context.Context, template *models.Template) ([]byte, error) {
	s.gotTemplate = template
	return []byte("%PDF-preview"), nil
}

func TestHandleGenerate(t *testing.T) {
	generator := &stubGenerator{attempted: 5, created: 3}
	h := &CertificateHandler{Generator: generator}
	eventID := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/api/events/"+eventID+"/certificates/generate", nil)
	req.Header.Set("X-User-ID", "user-7")
	req = withChiParams(req, map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()

	webutil.MakeHandler(h.HandleGenerate)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 5, body["attempted"])
	assert.Equal(t, 3, body["created_count"])
	assert.Equal(t, eventID, generator.calledEventID)
	assert.Equal(t, "user-7", generator.calledUserID)
}

func TestHandleGenerateRejectsMalformedEventID(t *testing.T) {
	h := &CertificateHandler{Generator: &stubGenerator{}}

	req := httptest.NewRequest(http.MethodPost, "/api/events/nope/certificates/generate", nil)
	req = withChiParams(req, map[string]string{"eventID": "nope"})
	rec := httptest.NewRecorder()

	webutil.MakeHandler(h.HandleGenerate)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusReportsDefaultsForMissingRecords(t *testing.T) {
	eventID := uuid.NewString()
	withCert := models.Participant{ID: uuid.NewString(), EventID: eventID, Name: "Ada", Email: "ada@example.com"}
	withoutCert := models.Participant{ID: uuid.NewString(), EventID: eventID, Name: "Grace", Email: "grace@example.com"}

	now := time.Now().UTC()
	cert := models.Certificate{
		ID:             uuid.NewString(),
		VerificationID: uuid.NewString(),
		ParticipantID:  withCert.ID,
		EventID:        eventID,
		Generation:     models.GenerationStatusGenerated,
		Email:          models.EmailStatusSent,
		GeneratedAt:    &now,
	}

	h := &CertificateHandler{
		Certs:        &stubCerts{byEvent: []models.Certificate{cert}},
		Participants: &stubParticipants{participants: []models.Participant{withCert, withoutCert}},
	}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/status", nil), map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleStatus)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.ParticipantStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 2)

	assert.Equal(t, models.GenerationStatusGenerated, rows[0].Generation)
	assert.Equal(t, models.EmailStatusSent, rows[0].EmailStatus)
	assert.Equal(t, cert.VerificationID, rows[0].VerificationID)

	assert.Equal(t, models.GenerationStatusNotGenerated, rows[1].Generation)
	assert.Equal(t, models.EmailStatusNotSent, rows[1].EmailStatus)
	assert.Empty(t, rows[1].CertificateID)
}

func TestHandleDownloadRedirectsRemoteReference(t *testing.T) {
	cert := &models.Certificate{
		ID:       uuid.NewString(),
		FilePath: "https://store.example.com/certificates/cert.pdf",
	}
	h := &CertificateHandler{Certs: &stubCerts{byID: map[string]*models.Certificate{cert.ID: cert}}}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/download", nil), map[string]string{"id": cert.ID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleDownload)(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, cert.FilePath, rec.Header().Get("Location"))
}

func TestHandleDownloadServesLocalReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cert.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-local"), 0644))

	cert := &models.Certificate{ID: uuid.NewString(), FilePath: path}
	h := &CertificateHandler{Certs: &stubCerts{byID: map[string]*models.Certificate{cert.ID: cert}}}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/download", nil), map[string]string{"id": cert.ID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleDownload)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-local", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "certificate_"+cert.ID+".pdf")
}

func TestHandleDownloadWithoutDocumentIs404(t *testing.T) {
	cert := &models.Certificate{ID: uuid.NewString()}
	h := &CertificateHandler{Certs: &stubCerts{byID: map[string]*models.Certificate{cert.ID: cert}}}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/download", nil), map[string]string{"id": cert.ID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleDownload)(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDownloadAllBuildsArchive(t *testing.T) {
	eventID := uuid.NewString()
	dir := t.TempDir()

	p1 := models.Participant{ID: uuid.NewString(), EventID: eventID, Name: "Ada Lovelace"}
	p2 := models.Participant{ID: uuid.NewString(), EventID: eventID, Name: "Grace Hopper"}

	var certs []models.Certificate
	for i, p := range []models.Participant{p1, p2} {
		path := filepath.Join(dir, fmt.Sprintf("cert_%d.pdf", i))
		require.NoError(t, os.WriteFile(path, []byte("%PDF-"+p.Name), 0644))
		certs = append(certs, models.Certificate{
			ID:            uuid.NewString(),
			ParticipantID: p.ID,
			EventID:       eventID,
			Generation:    models.GenerationStatusGenerated,
			FilePath:      path,
		})
	}

	h := &CertificateHandler{
		Certs:        &stubCerts{byEvent: certs},
		Participants: &stubParticipants{participants: []models.Participant{p1, p2}},
		Store:        storage.NewLocalFileStore(dir),
	}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/download-all", nil), map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleDownloadAll)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "certificate_"+certs[0].ID+"_Ada_Lovelace.pdf", zr.File[0].Name)
	assert.Equal(t, "certificate_"+certs[1].ID+"_Grace_Hopper.pdf", zr.File[1].Name)
}

func TestHandleDownloadAllWithoutGeneratedCertificates(t *testing.T) {
	h := &CertificateHandler{
		Certs:        &stubCerts{},
		Participants: &stubParticipants{},
	}

	eventID := uuid.NewString()
	req := withChiParams(httptest.NewRequest(http.MethodGet, "/download-all", nil), map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleDownloadAll)(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "No generated certificates found for this event", body["error"])
}

func TestHandleSendSurfacesRelayError(t *testing.T) {
	h := &CertificateHandler{Dispatcher: &stubDispatcher{sendOneErr: fmt.Errorf("relay rejected recipient")}}

	req := withChiParams(httptest.NewRequest(http.MethodPost, "/send", nil), map[string]string{"id": uuid.NewString()})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleSend)(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "relay rejected recipient", body["error"])
}

func TestHandleSendUngeneratedCertificateIsBadRequest(t *testing.T) {
	h := &CertificateHandler{Dispatcher: &stubDispatcher{
		sendOneErr: fmt.Errorf("certificate abc is not eligible for dispatch: %w", dispatch.ErrNotGenerated),
	}}

	req := withChiParams(httptest.NewRequest(http.MethodPost, "/send", nil), map[string]string{"id": uuid.NewString()})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleSend)(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Certificate has not been generated yet", body["error"])
}

func TestHandleSendSuccess(t *testing.T) {
	h := &CertificateHandler{Dispatcher: &stubDispatcher{}}

	req := withChiParams(httptest.NewRequest(http.MethodPost, "/send", nil), map[string]string{"id": uuid.NewString()})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleSend)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email sent successfully")
}

func TestHandleSendUpdatesRequiresSubjectAndContent(t *testing.T) {
	h := &CertificateHandler{Dispatcher: &stubDispatcher{}}
	eventID := uuid.NewString()

	body := bytes.NewBufferString(`{"subject":"","content":"hi"}`)
	req := withChiParams(httptest.NewRequest(http.MethodPost, "/updates/send", body), map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleSendUpdates)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendUpdates(t *testing.T) {
	h := &CertificateHandler{Dispatcher: &stubDispatcher{sent: 12}}
	eventID := uuid.NewString()

	body := bytes.NewBufferString(`{"subject":"Heads up","content":"New venue"}`)
	req := withChiParams(httptest.NewRequest(http.MethodPost, "/updates/send", body), map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleSendUpdates)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Updates sent to 12 participants")
}

func TestHandleVerify(t *testing.T) {
	eventID := uuid.NewString()
	participant := models.Participant{ID: uuid.NewString(), EventID: eventID, Name: "Ada Lovelace"}
	now := time.Now().UTC()
	cert := &models.Certificate{
		ID:             uuid.NewString(),
		VerificationID: uuid.NewString(),
		ParticipantID:  participant.ID,
		EventID:        eventID,
		Generation:     models.GenerationStatusGenerated,
		FilePath:       "https://store.example.com/secret.pdf",
		GeneratedAt:    &now,
	}

	h := &CertificateHandler{
		Certs:        &stubCerts{byVerificationID: map[string]*models.Certificate{cert.VerificationID: cert}},
		Participants: &stubParticipants{participants: []models.Participant{participant}},
		Events:       &stubEvents{event: &models.Event{ID: eventID, Name: "Go Conf", OrganizerName: "Jordan"}},
	}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/verify", nil), map[string]string{"verificationID": cert.VerificationID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleVerify)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result models.Verification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "Ada Lovelace", result.ParticipantName)
	assert.Equal(t, "Go Conf", result.EventName)
	assert.Equal(t, "Jordan", result.OrganizerName)
	assert.Equal(t, cert.VerificationID, result.VerificationID)

	// The content reference and internal IDs stay private.
	assert.NotContains(t, rec.Body.String(), "secret.pdf")
	assert.NotContains(t, rec.Body.String(), cert.ID)
}

func TestHandleVerifyUnknownID(t *testing.T) {
	h := &CertificateHandler{Certs: &stubCerts{}}

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/verify", nil), map[string]string{"verificationID": "unknown"})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandleVerify)(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Certificate not found", body["error"])
}

func TestHandlePreviewAppliesOverrides(t *testing.T) {
	eventID := uuid.NewString()
	previewer := &stubPreviewer{}
	h := &CertificateHandler{
		Templates: &stubTemplates{template: &models.Template{
			EventID:   eventID,
			FilePath:  "/tmp/template.png",
			FontSize:  40,
			FontColor: "#000000",
			QRSize:    100,
		}},
		Previewer: previewer,
	}

	payload := bytes.NewBufferString(`{"font_size":60,"font_color":"#ff0000","name_x":120}`)
	req := httptest.NewRequest(http.MethodPost, "/preview", payload)
	req = withChiParams(req, map[string]string{"eventID": eventID})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandlePreview)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-preview", rec.Body.String())

	require.NotNil(t, previewer.gotTemplate)
	assert.Equal(t, 60.0, previewer.gotTemplate.FontSize)
	assert.Equal(t, "#ff0000", previewer.gotTemplate.FontColor)
	require.NotNil(t, previewer.gotTemplate.NameX)
	assert.Equal(t, 120, *previewer.gotTemplate.NameX)
	// Unspecified fields keep their stored values.
	assert.Equal(t, 100, previewer.gotTemplate.QRSize)
}

func TestHandlePreviewWithoutTemplate(t *testing.T) {
	h := &CertificateHandler{Templates: &stubTemplates{}, Previewer: &stubPreviewer{}}

	req := withChiParams(httptest.NewRequest(http.MethodPost, "/preview", nil), map[string]string{"eventID": uuid.NewString()})
	rec := httptest.NewRecorder()
	webutil.MakeHandler(h.HandlePreview)(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Template not found", body["error"])
}

func TestUnderscoreName(t *testing.T) {
	assert.Equal(t, "Ada_Lovelace", underscoreName("Ada Lovelace"))
	assert.Equal(t, "Ada_Lovelace", underscoreName("  Ada   Lovelace  "))
	assert.Equal(t, "", underscoreName(""))
}
