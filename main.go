package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/certicraft/certicraft/api"
	"github.com/certicraft/certicraft/datastore"
	"github.com/certicraft/certicraft/dispatch"
	"github.com/certicraft/certicraft/processing"
	rh "github.com/certicraft/certicraft/route-handlers"
	"github.com/certicraft/certicraft/storage"
	_ "github.com/lib/pq"
)

const (
	defaultPort        = "8080"
	defaultDatabaseURL = "user=postgres password=password dbname=certicraft host=localhost port=5432 sslmode=disable"
	defaultMailHost    = "smtp.gmail.com"
	defaultMailPort    = 587
	defaultFrontendURL = "http://localhost:5173"
	dbPingTimeout      = 5 * time.Second
	shutdownTimeout    = 15 * time.Second
	dbMaxOpenConns     = 25
	dbMaxIdleConns     = 25
	dbConnMaxLifetime  = 5 * time.Minute
	generationWorkers  = 4
)

type config struct {
	port         string
	databaseURL  string
	supabaseURL  string
	supabaseKey  string
	mailHost     string
	mailPort     int
	mailUsername string
	mailPassword string
	fromEmail    string
	frontendURL  string
	outputDir    string
}

func main() {
	cfg := loadConfig()

	db, err := setupDatabase(cfg.databaseURL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}
	defer db.Close()

	certificateRepo := datastore.NewCertificateRepository(db)
	participantRepo := datastore.NewParticipantRepository(db)
	eventRepo := datastore.NewEventRepository(db)
	templateRepo := datastore.NewTemplateRepository(db)
	activityLogRepo := datastore.NewActivityLogRepository(db)

	// Content store: remote object storage when configured, local
	// filesystem fallback otherwise.
	var contentStore storage.ContentStore
	if cfg.supabaseURL != "" && cfg.supabaseKey != "" {
		contentStore = storage.NewSupabaseStore(cfg.supabaseURL, cfg.supabaseKey)
		log.Println("INFO (main): Using Supabase content store")
	} else {
		contentStore = storage.NewLocalFileStore(cfg.outputDir)
		log.Println("WARNING: SUPABASE_URL/SUPABASE_KEY not set, storing content on the local filesystem.")
	}

	// Rendering pipeline
	renderer := processing.NewCertificateRenderer(certificateRepo, contentStore, cfg.frontendURL, "")
	coordinator := processing.NewGenerationCoordinator(
		participantRepo,
		templateRepo,
		certificateRepo,
		activityLogRepo,
		renderer,
		generationWorkers,
	)

	// Dispatch pipeline. The relay is constructed once here and injected;
	// nothing else in the process talks SMTP.
	relay := dispatch.NewSMTPRelay(cfg.mailHost, cfg.mailPort, cfg.mailUsername, cfg.mailPassword, cfg.fromEmail)
	dispatchService := dispatch.NewService(
		certificateRepo,
		participantRepo,
		eventRepo,
		activityLogRepo,
		contentStore,
		relay,
		cfg.frontendURL,
		"",
	)

	certificateHandler := rh.NewCertificateHandler(
		certificateRepo,
		participantRepo,
		eventRepo,
		templateRepo,
		coordinator,
		dispatchService,
		renderer,
		contentStore,
	)
	templateHandler := rh.NewTemplateHandler(templateRepo, contentStore)

	router := api.SetupRoutes(certificateHandler, templateHandler)

	startServer(cfg.port, router)
}

func loadConfig() config {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		dbURL = defaultDatabaseURL
		log.Println("WARNING: DB_CONNECTION_STRING not set, using default local connection string.")
	}

	mailUsername := os.Getenv("MAIL_USERNAME")
	mailPassword := os.Getenv("MAIL_PASSWORD")
	if mailUsername == "" || mailPassword == "" {
		log.Println("WARNING: MAIL_USERNAME/MAIL_PASSWORD not set. Email dispatch will fail at runtime.")
	}

	mailHost := os.Getenv("MAIL_HOST")
	if mailHost == "" {
		mailHost = defaultMailHost
	}

	mailPort := defaultMailPort
	if portStr := os.Getenv("MAIL_PORT"); portStr != "" {
		if parsed, err := strconv.Atoi(portStr); err == nil {
			mailPort = parsed
		} else {
			log.Printf("WARNING: Invalid MAIL_PORT %q, using %d.", portStr, defaultMailPort)
		}
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = defaultFrontendURL
	}

	return config{
		port:         port,
		databaseURL:  dbURL,
		supabaseURL:  os.Getenv("SUPABASE_URL"),
		supabaseKey:  os.Getenv("SUPABASE_KEY"),
		mailHost:     mailHost,
		mailPort:     mailPort,
		mailUsername: mailUsername,
		mailPassword: mailPassword,
		fromEmail:    os.Getenv("FROM_EMAIL"),
		frontendURL:  frontendURL,
		outputDir:    os.Getenv("OUTPUT_DIR"),
	}
}

func setupDatabase(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection successful")
	return db, nil
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
