// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/scheduler"
	"github.com/weather-collector/internal/service"
	"github.com/weather-collector/internal/types"
)

// Service interfaces for dependency injection and testing

// WeatherQueries is the read-side surface served by the public routes.
type WeatherQueries interface {
	Current(ctx context.Context, city string) (*service.CurrentResult, error)
	History(ctx context.Context, city string, days int) ([]*models.WeatherObservation, error)
	Summary(ctx context.Context, city string, days int) (*models.WeatherSummary, error)
	ExportCSV(ctx context.Context, city string, days int) ([]byte, error)
	Cities(ctx context.Context, limit int) (*service.CitiesResult, error)
}

// SchedulerControls is the orchestrator surface behind the admin routes.
type SchedulerControls interface {
	TriggerUpdate(kind types.UpdateKind) error
	CancelBackfill() error
	Status() scheduler.Status
	History(limit int) []scheduler.HistoryEntry
}

// BackfillReporter serves the backfill-status route.
type BackfillReporter interface {
	StatusReport(ctx context.Context) (*service.BackfillReport, error)
}

// StoreStats feeds the admin status route.
type StoreStats interface {
	Stats(ctx context.Context) (*models.StoreStats, error)
}

// CatalogAdmin mutates the location catalog for the admin routes.
type CatalogAdmin interface {
	Upsert(ctx context.Context, loc *models.Location) error
}

// CacheInvalidator drops cached observations when a catalog entry changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, names ...string) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	queries    WeatherQueries
	sched      SchedulerControls
	tracker    BackfillReporter
	// usage returns the provider client's request counters for the status
	// route; any JSON-marshalable snapshot works.
	usage    func() interface{}
	stats    StoreStats
	catalog  CatalogAdmin
	cacheInv CacheInvalidator
	config   *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AuthToken       string // optional bearer token for admin routes
	ClientRPS       int    // per-client request rate
}

// NewServer creates a new API server instance. usage, stats, catalog and
// cache may be nil; the routes and sections depending on them are then
// omitted.
func NewServer(
	config *ServerConfig,
	queries WeatherQueries,
	sched SchedulerControls,
	tracker BackfillReporter,
	catalog CatalogAdmin,
	cache CacheInvalidator,
	usage func() interface{},
	stats StoreStats,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		queries:  queries,
		sched:    sched,
		tracker:  tracker,
		catalog:  catalog,
		cacheInv: cache,
		usage:    usage,
		stats:    stats,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.ClientRPS)

	// Middleware order matters: logging sees every request, recovery wraps
	// everything below it.
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	readTimeout := s.config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = time.Minute
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Weather endpoints
	api.HandleFunc("/weather/current/{city}", s.handleCurrentWeather).Methods("GET")
	api.HandleFunc("/weather/history/{city}", s.handleWeatherHistory).Methods("GET")
	api.HandleFunc("/weather/summary/{city}", s.handleWeatherSummary).Methods("GET")
	api.HandleFunc("/weather/export/{city}", s.handleWeatherExport).Methods("GET")
	api.HandleFunc("/cities", s.handleCities).Methods("GET")

	// Admin endpoints, behind the optional bearer token.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AuthMiddleware(s.config.AuthToken))
	admin.HandleFunc("/update", s.handleTriggerUpdate).Methods("POST")
	admin.HandleFunc("/status", s.handleStatus).Methods("GET")
	admin.HandleFunc("/backfill-status", s.handleBackfillStatus).Methods("GET")
	admin.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	admin.HandleFunc("/backfill/cancel", s.handleCancelBackfill).Methods("POST")
	if s.catalog != nil {
		admin.HandleFunc("/locations", s.handleUpsertLocation).Methods("PUT")
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "weather-collector",
	})
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
