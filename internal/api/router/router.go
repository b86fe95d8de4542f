// Package router provides HTTP routing configuration using Chi.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/sehal/internal/api/handler"
	"github.com/remiblancher/sehal/internal/api/middleware"
	"github.com/remiblancher/sehal/internal/api/service"
)

// DefaultMaxBody caps request bodies.
const DefaultMaxBody = 1 << 20

// Config holds router configuration.
type Config struct {
	Version string
	Device  *service.DeviceService
	Logger  *slog.Logger

	// MaxBody caps request bodies; zero uses DefaultMaxBody.
	MaxBody int64
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.MaxBody(maxBody))

	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Device)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	deviceHandler := handler.NewDeviceHandler(cfg.Device)
	slotHandler := handler.NewSlotHandler(cfg.Device)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/random", deviceHandler.Random)
		r.Post("/hash", deviceHandler.Hash)
		r.Post("/sign", deviceHandler.Sign)
		r.Post("/verify", deviceHandler.Verify)

		r.Get("/keys/{slot}", slotHandler.Key)

		r.Get("/certs/{slot}", slotHandler.GetCert)
		r.Put("/certs/{slot}", slotHandler.PutCert)

		r.Get("/storage/{slot}", slotHandler.GetStorage)
		r.Put("/storage/{slot}", slotHandler.PutStorage)
	})

	return r
}
