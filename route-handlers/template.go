package routehandlers

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/storage"
	"github.com/certicraft/certicraft/webutil"
)

// TemplateStore is the template repository surface the HTTP layer needs.
type TemplateStore interface {
	GetTemplateByEventID(ctx context.Context, eventID string) (*models.Template, error)
	UpsertTemplate(ctx context.Context, t *models.Template) error
	DeleteTemplateByEventID(ctx context.Context, eventID string) error
}

type TemplateHandler struct {
	Templates TemplateStore
	Store     storage.ContentStore
}

func NewTemplateHandler(templates TemplateStore, store storage.ContentStore) *TemplateHandler {
	return &TemplateHandler{Templates: templates, Store: store}
}

type templateResponse struct {
	models.Template
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// HandleGetTemplate returns the event's template configuration, with the
// base image inlined as base64 when it can be fetched. A broken image
// reference degrades to configuration-only rather than an error: the editor
// still needs the coordinates.
func (h *TemplateHandler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	template, err := h.Templates.GetTemplateByEventID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("no template")
		}
		return fmt.Errorf("failed to load template for event %s: %w", eventID, err)
	}

	resp := templateResponse{Template: *template}
	if template.FilePath != "" {
		data, err := h.Store.Get(r.Context(), template.FilePath)
		if err != nil {
			log.Printf("WARN (TemplateHandler): Failed to read template image for event %s: %v", eventID, err)
		} else {
			resp.ImageData = base64.StdEncoding.EncodeToString(data)
			resp.MimeType = templateMimeType(template.FilePath)
		}
	}

	webutil.RespondWithJSON(w, http.StatusOK, resp)
	return nil
}

type coordinatesRequest struct {
	FilePath  string  `json:"file_path,omitempty"`
	NameX     *int    `json:"name_x"`
	NameY     *int    `json:"name_y"`
	FontSize  float64 `json:"font_size"`
	FontColor string  `json:"font_color"`
	QRX       *int    `json:"qr_x"`
	QRY       *int    `json:"qr_y"`
	QRSize    int     `json:"qr_size"`
}

// HandleSetCoordinates upserts the event's layout configuration. All
// coordinates must already be in source-image pixel space; scaled preview
// coordinates are the caller's problem to map back. Coordinates are
// pointers so (0,0) is a real corner anchor and omitted fields keep their
// stored values.
func (h *TemplateHandler) HandleSetCoordinates(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	var req coordinatesRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	template, err := h.Templates.GetTemplateByEventID(r.Context(), eventID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load template for event %s: %w", eventID, err)
		}
		// Setting coordinates before an image exists creates the row; the
		// image reference arrives later through the upload flow.
		template = &models.Template{
			EventID:   eventID,
			FontSize:  models.DefaultFontSize,
			FontColor: models.DefaultFontColor,
			QRSize:    models.DefaultQRSize,
		}
	}

	if req.FilePath != "" {
		template.FilePath = req.FilePath
	}
	if req.NameX != nil {
		template.NameX = req.NameX
	}
	if req.NameY != nil {
		template.NameY = req.NameY
	}
	if req.FontSize > 0 {
		template.FontSize = req.FontSize
	}
	if req.FontColor != "" {
		template.FontColor = req.FontColor
	}
	if req.QRX != nil {
		template.QRX = req.QRX
	}
	if req.QRY != nil {
		template.QRY = req.QRY
	}
	if req.QRSize > 0 {
		template.QRSize = req.QRSize
	}

	if err := h.Templates.UpsertTemplate(r.Context(), template); err != nil {
		return fmt.Errorf("failed to save template for event %s: %w", eventID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, template)
	return nil
}

// HandleDeleteTemplate removes the event's template row and, best effort,
// the stored base image behind it. A failed image removal only warns: the
// row is already gone and the orphaned object is harmless.
func (h *TemplateHandler) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) error {
	eventID, err := eventIDParam(r)
	if err != nil {
		return err
	}

	template, err := h.Templates.GetTemplateByEventID(r.Context(), eventID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load template for event %s: %w", eventID, err)
	}

	if err := h.Templates.DeleteTemplateByEventID(r.Context(), eventID); err != nil {
		return fmt.Errorf("failed to delete template for event %s: %w", eventID, err)
	}

	if template != nil && template.FilePath != "" {
		h.removeStoredImage(r.Context(), template.FilePath)
	}

	webutil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	return nil
}

func (h *TemplateHandler) removeStoredImage(ctx context.Context, ref string) {
	if bucket, key, ok := storage.SplitPublicURL(ref); ok {
		if err := h.Store.Delete(ctx, bucket, key); err != nil {
			log.Printf("WARN (TemplateHandler): Failed to delete stored template image %s/%s: %v", bucket, key, err)
		}
		return
	}
	if !storage.ClassifyRef(ref).IsRemote() {
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			log.Printf("WARN (TemplateHandler): Failed to delete local template image %s: %v", ref, err)
		}
	}
}

func templateMimeType(ref string) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(ref)); mimeType != "" {
		return mimeType
	}
	return "image/png"
}
