package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rh "github.com/certicraft/certicraft/route-handlers"
	"github.com/certicraft/certicraft/webutil"
)

const (
	apiBasePath          = "/api"
	eventsBasePath       = "/events"
	certificatesBasePath = "/certificates"
	verifyBasePath       = "/verify"
)

const (
	paramID             = "id"
	paramEventID        = "eventID"
	paramVerificationID = "verificationID"
)

// Batch operations (generation for hundreds of participants, bulk archive
// download) outlive a short default timeout comfortably; give them room.
const requestTimeout = 5 * time.Minute

func SetupRoutes(
	certificateHandler *rh.CertificateHandler,
	templateHandler *rh.TemplateHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route(apiBasePath, func(r chi.Router) {
		configureEventRoutes(r, certificateHandler, templateHandler)
		configureCertificateRoutes(r, certificateHandler)
		configureVerificationRoutes(r, certificateHandler)
	})

	// Health check endpoint
	r.Get("/healthz", handleHealthCheck)

	return r
}

// --- Event-scoped Routes ---
func configureEventRoutes(r chi.Router, certHandler *rh.CertificateHandler, templateHandler *rh.TemplateHandler) {
	eventPath := eventsBasePath + "/{" + paramEventID + "}"

	r.Route(eventPath, func(r chi.Router) {
		r.Route(certificatesBasePath, func(r chi.Router) {
			r.Post("/generate", webutil.MakeHandler(certHandler.HandleGenerate))
			r.Get("/status", webutil.MakeHandler(certHandler.HandleStatus))
			r.Get("/download-all", webutil.MakeHandler(certHandler.HandleDownloadAll))
			r.Post("/send-all", webutil.MakeHandler(certHandler.HandleSendAll))
			r.Post("/preview", webutil.MakeHandler(certHandler.HandlePreview))
		})

		r.Post("/updates/send", webutil.MakeHandler(certHandler.HandleSendUpdates))

		r.Route("/template", func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(templateHandler.HandleGetTemplate))
			r.Post("/coordinates", webutil.MakeHandler(templateHandler.HandleSetCoordinates))
			r.Delete("/", webutil.MakeHandler(templateHandler.HandleDeleteTemplate))
		})
	})
}

// --- Certificate Routes ---
func configureCertificateRoutes(r chi.Router, handler *rh.CertificateHandler) {
	certificatePath := "/{" + paramID + "}"

	r.Route(certificatesBasePath, func(r chi.Router) {
		r.Route(certificatePath, func(r chi.Router) {
			r.Get("/download", webutil.MakeHandler(handler.HandleDownload))
			r.Post("/send", webutil.MakeHandler(handler.HandleSend))
		})
	})
}

// --- Public Verification Routes ---
func configureVerificationRoutes(r chi.Router, handler *rh.CertificateHandler) {
	r.Get(verifyBasePath+"/{"+paramVerificationID+"}", webutil.MakeHandler(handler.HandleVerify))
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
