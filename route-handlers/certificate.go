package routehandlers

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/certicraft/certicraft/dispatch"
	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/storage"
	"github.com/certicraft/certicraft/webutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CertificateReader is the read surface of the certificate repository the
// HTTP layer needs.
type CertificateReader interface {
	GetCertificateByID(ctx context.Context, certificateID string) (*models.Certificate, error)
	GetCertificateByVerificationID(ctx context.Context, verificationID string) (*models.Certificate, error)
	GetCertificatesByEventID(ctx context.Context, eventID string) ([]models.Certificate, error)
	GetGeneratedByEventID(ctx context.Context, eventID string) ([]models.Certificate, error)
}

type ParticipantReader interface {
	GetParticipantsByEventID(ctx context.Context, eventID string) ([]models.Participant, error)
	GetParticipantByID(ctx context.Context, participantID string) (*models.Participant, error)
}

type EventReader interface {
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

type TemplateReader interface {
	GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error)
}

// Generator triggers certificate generation for a whole event.
type Generator interface {
	GenerateAll(ctx context.Context, eventID, userID string) (attempted, created int, err error)
}

// Dispatcher sends certificates and organizer updates by email.
type Dispatcher interface {
	SendOne(ctx context.Context, certificateID, userID string) error
	SendAll(ctx context.Context, eventID, userID string) (sent, failed int, err error)
	SendUpdates(ctx context.Context, eventID, userID, subject, content string) (sent, failed int, err error)
}

// Previewer renders a throwaway certificate document for layout preview.
type Previewer interface {
	Preview(ctx context.Context, template *models.Template) ([]byte, error)
}

type CertificateHandler struct {
	Certs        CertificateReader
	Participants ParticipantReader
	Events       EventReader
	Templates    TemplateReader
	Generator    Generator
	Dispatcher   Dispatcher
	Previewer    Previewer
	Store        storage.ContentStore
}

func NewCertificateHandler(
	certs CertificateReader,
	participants ParticipantReader,
	events EventReader,
	templates TemplateReader,
	generator Generator,
	dispatcher Dispatcher,
	previewer Previewer,
	store storage.ContentStore,
) *CertificateHandler {
	return &CertificateHandler{
		Certs:        certs,
		Participants: participants,
		Events:       events,
		Templates:    templates,
		Generator:    generator,
		Dispatcher:   dispatcher,
		Previewer:    previewer,
		Store:        store,
	}
}

// requestUserID identifies the acting organizer for audit entries. Session
// handling lives outside this service; the gateway forwards the resolved
// user in a header.
func requestUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func eventIDParam(r *http.Request) (string, error) {
	eventID := chi.URLParam(r, "eventID")
	if _, err := uuid.Parse(eventID); err != nil {
		return "", webutil.ErrBadRequest("Invalid event ID format")
	}
	return eventID, nil
}

// HandleGenerate triggers generation for every participant of the event.
// Safe to call repeatedly: already-generated certificates are skipped.
func (h *CertificateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	attempted, created, err := h.Generator.GenerateAll(r.Context(), eventID, requestUserID(r))
	if err != nil {
		return fmt.Errorf("failed to generate certificates for event %s: %w", eventID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, map[string]int{
		"attempted":     attempted,
		"created_count": created,
	})
	return nil
}

// HandleStatus returns one row per participant, joining in certificate state
// where a record exists.
func (h *CertificateHandler) HandleStatus(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	participants, err := h.Participants.GetParticipantsByEventID(r.Context(), eventID)
	if err != nil {
		return fmt.Errorf("failed to list participants for event %s: %w", eventID, err)
	}
	certs, err := h.Certs.GetCertificatesByEventID(r.Context(), eventID)
	if err != nil {
		return fmt.Errorf("failed to list certificates for event %s: %w", eventID, err)
	}

	byParticipant := make(map[string]*models.Certificate, len(certs))
	for i := range certs {
		byParticipant[certs[i].ParticipantID] = &certs[i]
	}

	statuses := make([]models.ParticipantStatus, 0, len(participants))
	for _, p := range participants {
		row := models.ParticipantStatus{
			ParticipantID:   p.ID,
			ParticipantName: p.Name,
			Email:           p.Email,
			Generation:      models.GenerationStatusNotGenerated,
			EmailStatus:     models.EmailStatusNotSent,
		}
		if cert, ok := byParticipant[p.ID]; ok {
			row.CertificateID = cert.ID
			row.Generation = cert.Generation
			row.EmailStatus = cert.Email
			row.VerificationID = cert.VerificationID
			row.GeneratedAt = cert.GeneratedAt
		}
		statuses = append(statuses, row)
	}

	webutil.RespondWithJSON(w, http.StatusOK, statuses)
	return nil
}

// HandleDownload returns one certificate document: a redirect for remote
// references, a streamed file for local ones.
func (h *CertificateHandler) HandleDownload(w http.ResponseWriter, r *http.Request) error {
	certificateID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(certificateID); err != nil {
		return webutil.ErrBadRequest("Invalid certificate ID format")
	}

	cert, err := h.Certs.GetCertificateByID(r.Context(), certificateID)
	if err != nil {
		return err
	}
	if cert.FilePath == "" {
		return webutil.ErrNotFound("Certificate file not found")
	}

	ref := storage.ClassifyRef(cert.FilePath)
	if ref.IsRemote() {
		http.Redirect(w, r, ref.String(), http.StatusFound)
		return nil
	}

	w.Header().Set(webutil.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="certificate_%s.pdf"`, cert.ID))
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypePDF)
	http.ServeFile(w, r, ref.String())
	return nil
}

// HandleDownloadAll streams a zip archive of every generated certificate for
// the event. Documents that cannot be fetched are skipped with a warning so
// one broken reference does not sink the whole archive.
func (h *CertificateHandler) HandleDownloadAll(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	certs, err := h.Certs.GetGeneratedByEventID(r.Context(), eventID)
	if err != nil {
		return fmt.Errorf("failed to list generated certificates for event %s: %w", eventID, err)
	}
	if len(certs) == 0 {
		return webutil.ErrNotFound("No generated certificates found for this event")
	}

	participants, err := h.Participants.GetParticipantsByEventID(r.Context(), eventID)
	if err != nil {
		return fmt.Errorf("failed to list participants for event %s: %w", eventID, err)
	}
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}

	w.Header().Set(webutil.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="event_%s_certificates.zip"`, eventID))
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeZip)

	zw := zip.NewWriter(w)
	for _, cert := range certs {
		if cert.FilePath == "" {
			continue
		}
		data, err := h.Store.Get(r.Context(), cert.FilePath)
		if err != nil {
			log.Printf("WARN (CertificateHandler): Skipping certificate %s in archive: %v", cert.ID, err)
			continue
		}

		entryName := fmt.Sprintf("certificate_%s_%s.pdf", cert.ID, underscoreName(names[cert.ParticipantID]))
		entry, err := zw.Create(entryName)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to create archive entry %s: %w", entryName, err)
		}
		if _, err := entry.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write archive entry %s: %w", entryName, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive for event %s: %w", eventID, err)
	}
	return nil
}

// HandleSend dispatches one certificate to its participant by email.
func (h *CertificateHandler) HandleSend(w http.ResponseWriter, r *http.Request) error {
	certificateID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(certificateID); err != nil {
		return webutil.ErrBadRequest("Invalid certificate ID format")
	}

	if err := h.Dispatcher.SendOne(r.Context(), certificateID, requestUserID(r)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if errors.Is(err, dispatch.ErrNotGenerated) {
			return webutil.ErrBadRequest("Certificate has not been generated yet")
		}
		// Surface the relay's message; the caller needs it to act.
		return webutil.NewHTTPErrorWrap(http.StatusInternalServerError, err.Error(), err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Email sent successfully"})
	return nil
}

// HandleSendAll dispatches every generated certificate of the event.
func (h *CertificateHandler) HandleSendAll(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	sent, failed, err := h.Dispatcher.SendAll(r.Context(), eventID, requestUserID(r))
	if err != nil {
		return webutil.NewHTTPErrorWrap(http.StatusInternalServerError, err.Error(), err)
	}
	if sent == 0 && failed == 0 {
		webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "No certificates to send."})
		return nil
	}

	webutil.RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully sent %d emails", sent),
		"sent":    sent,
		"failed":  failed,
	})
	return nil
}

type sendUpdatesRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// HandleSendUpdates broadcasts a free-form organizer message to all
// participants of the event.
func (h *CertificateHandler) HandleSendUpdates(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	var req sendUpdatesRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.Subject == "" || req.Content == "" {
		return webutil.ErrBadRequest("subject and content are required")
	}

	sent, failed, err := h.Dispatcher.SendUpdates(r.Context(), eventID, requestUserID(r), req.Subject, req.Content)
	if err != nil {
		return webutil.NewHTTPErrorWrap(http.StatusInternalServerError, err.Error(), err)
	}
	if sent == 0 && failed == 0 {
		webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "No participants to update."})
		return nil
	}

	webutil.RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Updates sent to %d participants", sent),
		"sent":    sent,
		"failed":  failed,
	})
	return nil
}

// HandleVerify is the public, unauthenticated certificate lookup. It exposes
// only the participant, event and organizer names plus the generation
// timestamp; internal IDs and the content reference stay private.
func (h *CertificateHandler) HandleVerify(w http.ResponseWriter, r *http.Request) error {
	verificationID := chi.URLParam(r, "verificationID")
	if verificationID == "" {
		return webutil.ErrBadRequest("Verification ID is required")
	}

	cert, err := h.Certs.GetCertificateByVerificationID(r.Context(), verificationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Certificate not found")
		}
		return fmt.Errorf("failed to look up verification %s: %w", verificationID, err)
	}

	participant, err := h.Participants.GetParticipantByID(r.Context(), cert.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to load participant for verification %s: %w", verificationID, err)
	}
	event, err := h.Events.GetEventByID(r.Context(), cert.EventID)
	if err != nil {
		return fmt.Errorf("failed to load event for verification %s: %w", verificationID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, models.Verification{
		ParticipantName: participant.Name,
		EventName:       event.Name,
		OrganizerName:   event.OrganizerName,
		GeneratedAt:     cert.GeneratedAt,
		VerificationID:  cert.VerificationID,
	})
	return nil
}

type previewRequest struct {
	NameX     *int     `json:"name_x"`
	NameY     *int     `json:"name_y"`
	FontSize  *float64 `json:"font_size"`
	FontColor *string  `json:"font_color"`
	QRX       *int     `json:"qr_x"`
	QRY       *int     `json:"qr_y"`
	QRSize    *int     `json:"qr_size"`
}

// HandlePreview renders the event's template with a placeholder name and
// verification token, using any layout overrides from the request body. The
// result is streamed and discarded, never persisted.
func (h *CertificateHandler) HandlePreview(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	var req previewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
		}
		defer r.Body.Close()
	}

	template, err := h.Templates.GetTemplateByEventID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Template not found")
		}
		return fmt.Errorf("failed to load template for event %s: %w", eventID, err)
	}

	preview := *template
	applyPreviewOverrides(&preview, &req)

	document, err := h.Previewer.Preview(r.Context(), &preview)
	if err != nil {
		return fmt.Errorf("failed to render preview for event %s: %w", eventID, err)
	}

	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypePDF)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
	return nil
}

func applyPreviewOverrides(t *models.Template, req *previewRequest) {
	if req.NameX != nil {
		t.NameX = req.NameX
	}
	if req.NameY != nil {
		t.NameY = req.NameY
	}
	if req.FontSize != nil {
		t.FontSize = *req.FontSize
	}
	if req.FontColor != nil {
		t.FontColor = *req.FontColor
	}
	if req.QRX != nil {
		t.QRX = req.QRX
	}
	if req.QRY != nil {
		t.QRY = req.QRY
	}
	if req.QRSize != nil {
		t.QRSize = *req.QRSize
	}
}

// underscoreName collapses whitespace runs in a participant name into single
// underscores for archive entry names.
func underscoreName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}
