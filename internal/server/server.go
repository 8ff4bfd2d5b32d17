package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/authtoken"
	"cobblepod/internal/catalogue"
	"cobblepod/internal/config"
	"cobblepod/internal/entitlement"
	"cobblepod/internal/httpapi"
	"cobblepod/internal/objectstore"
	"cobblepod/internal/queue"
	"cobblepod/internal/receipt"
	"cobblepod/internal/store"
)

// Server wraps the HTTP server for the catalogue & entitlement API.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	db         *store.Store
	jobQueue   *queue.Queue
}

// NewServer creates a new HTTP server instance, wiring the SQLite store,
// job queue, and Apple receipt verifier behind the catalogue and
// entitlement services.
func NewServer(port string) (*Server, error) {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	db, err := store.Open(ctx, config.DatabasePath)
	if err != nil {
		return nil, err
	}

	jobQueue, err := queue.NewQueue(ctx)
	if err != nil {
		return nil, err
	}

	signer := &objectstore.Signer{BaseURL: config.CDNBaseURL, AuthKey: config.CDNAuthKey}
	catalogueService := catalogue.New(db, signer)

	verifier, err := receipt.NewVerifier(receipt.TrustConfig{
		RootCAPEM: loadRootCAPEM(),
		Relaxed:   config.RelaxedReceiptTrust,
	})
	if err != nil {
		return nil, err
	}

	entitlementProcessor := entitlement.New(db, verifier, entitlement.Config{
		BundleID:    config.AppStoreBundleID,
		AppAppleID:  config.AppStoreAppleID,
		Environment: config.AppStoreEnvironment,
	})

	issuer := authtoken.New(config.JWTSecret, config.JWTExpiration)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	httpapi.SetupRoutes(router, httpapi.Deps{
		Catalogue:      catalogueService,
		Entitlement:    entitlementProcessor,
		Issuer:         issuer,
		Store:          db,
		Queue:          jobQueue,
		InternalAPIKey: config.InternalAPIKey,
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: httpServer, router: router, db: db, jobQueue: jobQueue}, nil
}

// loadRootCAPEM reads the Apple root CA PEM bundle from disk when a path
// is configured, falling back to an inline PEM value.
func loadRootCAPEM() []byte {
	if config.AppleRootCAPath != "" {
		data, err := os.ReadFile(config.AppleRootCAPath)
		if err != nil {
			slog.Error("failed to read Apple root CA file", "path", config.AppleRootCAPath, "error", err)
			return nil
		}
		return data
	}
	if config.AppleRootCAPEM != "" {
		return []byte(config.AppleRootCAPEM)
	}
	return nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}

	if s.jobQueue != nil {
		if err := s.jobQueue.Close(); err != nil {
			slog.Error("Failed to close job queue", "error", err)
		}
	}

	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware handles CORS for the frontend
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*") // In production, specify your frontend domain
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
