package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/certicraft/certicraft/models"
	"github.com/certicraft/certicraft/render"
	"github.com/certicraft/certicraft/storage"
)

const (
	certificateBucket = "certificates"
	certificateFolder = "pdfs"

	// errTemplateNotFound is recorded verbatim on every certificate of an
	// event that has no usable template configuration.
	errTemplateNotFound = "Template not found"

	previewName  = "John Doe"
	previewToken = "PREVIEW-123"
)

// CertificateStore is the slice of the certificate repository the rendering
// pipeline mutates.
type CertificateStore interface {
	GetOrCreate(ctx context.Context, participantID, eventID string) (*models.Certificate, error)
	MarkGenerated(ctx context.Context, certificateID, filePath string, generatedAt time.Time) error
	MarkGenerationFailed(ctx context.Context, certificateID, reason string) error
}

// CertificateRenderer produces one participant's certificate document:
// template materialization, QR symbol, composite, PDF, upload, and the
// terminal status transition on the record.
type CertificateRenderer struct {
	certs   CertificateStore
	store   storage.ContentStore
	baseURL string // public verification link base, e.g. https://certi.example
	workDir string // staging dir for temporary materializations; "" = system temp
}

func NewCertificateRenderer(certs CertificateStore, store storage.ContentStore, baseURL, workDir string) *CertificateRenderer {
	return &CertificateRenderer{
		certs:   certs,
		store:   store,
		baseURL: baseURL,
		workDir: workDir,
	}
}

// Render takes a PENDING (or FAILED, on retry) certificate record to a
// terminal state. A nil template, an unreachable template image, or any
// failure along the pipeline transitions the record to FAILED with the
// error message captured verbatim; the error is also returned so callers
// can count outcomes. No partial artifact survives a failed attempt.
func (r *CertificateRenderer) Render(ctx context.Context, participant *models.Participant, template *models.Template, cert *models.Certificate) error {
	document, err := r.renderDocument(ctx, template, participant.Name, cert.VerificationID)
	if err != nil {
		return r.fail(ctx, cert, err)
	}

	fileName := fmt.Sprintf("cert_%s.pdf", cert.ID)
	ref, err := r.store.Put(ctx, certificateBucket, certificateFolder, fileName, document, render.PDFContentType)
	if err != nil {
		return r.fail(ctx, cert, fmt.Errorf("failed to upload certificate: %w", err))
	}

	generatedAt := time.Now().UTC()
	if err := r.certs.MarkGenerated(ctx, cert.ID, ref, generatedAt); err != nil {
		return fmt.Errorf("certificate %s rendered to %s but status update failed: %w", cert.ID, ref, err)
	}

	log.Printf("INFO (CertificateRenderer): Generated certificate %s for participant %s (%s)", cert.ID, participant.ID, ref)
	return nil
}

// Preview runs the same pipeline as Render with a placeholder name and
// verification token. Nothing is persisted; the caller streams the returned
// bytes and discards them.
func (r *CertificateRenderer) Preview(ctx context.Context, template *models.Template) ([]byte, error) {
	return r.renderDocument(ctx, template, previewName, previewToken)
}

func (r *CertificateRenderer) renderDocument(ctx context.Context, template *models.Template, name, verificationID string) ([]byte, error) {
	if template == nil || template.FilePath == "" {
		return nil, errors.New(errTemplateNotFound)
	}

	templatePath, cleanup, err := storage.Materialize(ctx, r.store, template.FilePath, r.workDir, "template-*.img")
	if err != nil {
		return nil, fmt.Errorf("failed to materialize template: %w", err)
	}
	defer cleanup()

	opts := layoutOptions(template, name)
	if opts.SymbolAnchor != nil {
		symbol, symErr := render.EncodeSymbol(r.VerificationURL(verificationID), opts.SymbolSize, nil, nil)
		if symErr != nil {
			// Degrade to a certificate without a symbol rather than failing
			// the whole render.
			log.Printf("WARN (CertificateRenderer): Failed to encode QR symbol for %s: %v", verificationID, symErr)
			opts.SymbolAnchor = nil
		} else {
			opts.Symbol = symbol
		}
	}

	composite, err := render.Compose(templatePath, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := render.EncodePDF(&buf, composite); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// layoutOptions maps the template's layout configuration onto compose
// options. Anchors are set only when both coordinates are present, so (0,0)
// is an ordinary corner anchor while a nil pair means "unset". The symbol is
// encoded separately by the caller.
func layoutOptions(template *models.Template, name string) render.ComposeOptions {
	opts := render.ComposeOptions{
		Name:       name,
		FontSize:   template.FontSize,
		FontColor:  template.FontColor,
		SymbolSize: template.QRSize,
	}
	if template.NameX != nil && template.NameY != nil {
		opts.NameAnchor = &render.Point{X: *template.NameX, Y: *template.NameY}
	}
	if template.QRX != nil && template.QRY != nil {
		if opts.SymbolSize <= 0 {
			opts.SymbolSize = models.DefaultQRSize
		}
		opts.SymbolAnchor = &render.Point{X: *template.QRX, Y: *template.QRY}
	}
	return opts
}

// VerificationURL builds the public link embedded in the QR symbol and in
// delivery emails.
func (r *CertificateRenderer) VerificationURL(verificationID string) string {
	return fmt.Sprintf("%s/verify/%s", r.baseURL, verificationID)
}

func (r *CertificateRenderer) fail(ctx context.Context, cert *models.Certificate, cause error) error {
	if err := r.certs.MarkGenerationFailed(ctx, cert.ID, cause.Error()); err != nil {
		log.Printf("ERROR (CertificateRenderer): Failed to record failure for certificate %s: %v", cert.ID, err)
	}
	return cause
}
