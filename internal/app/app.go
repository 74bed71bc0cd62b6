package app

import (
	"fmt"
	"net/http"

	"peoplecounter/internal/config"
	"peoplecounter/internal/detect"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlstore"
	"peoplecounter/internal/routes"
	"peoplecounter/internal/services/websocket"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	store     repository.ImageRepository
	detector  *detect.YOLODetector
	processor *pipeline.Processor
	hub       *websocket.HubService
}

// New wires the application together. An unreachable database is logged and
// the server continues without persistence.
func New() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var store repository.ImageRepository
	if cfg.DBConfigured() {
		driver, dsn := cfg.StoreDSN()
		st, err := sqlstore.Open(driver, dsn)
		if err != nil {
			log.Warning("Database unavailable, continuing without persistence: %v", err)
		} else {
			store = st
			log.Info("Image store ready (%s)", driver)
		}
	} else {
		log.Info("No database configured, results are not persisted")
	}

	detector := detect.NewYOLODetector(cfg.ModelDir, cfg.Device, log)
	processor := pipeline.New(detector, store, log)
	hub := websocket.NewHubService(log)

	return &App{
		config:    cfg,
		logger:    log,
		store:     store,
		detector:  detector,
		processor: processor,
		hub:       hub,
	}, nil
}

// Run starts the event hub and serves the HTTP API until it fails.
func (a *App) Run() error {
	go a.hub.Run()

	router := routes.SetupRoutes(a.processor, a.store, a.hub, a.config, a.logger)

	a.logger.Info("People counter server listening on http://localhost:%d", a.config.Port)
	return http.ListenAndServe(fmt.Sprintf(":%d", a.config.Port), router)
}

// Close releases the detector and the store.
func (a *App) Close() {
	a.detector.Close()
	if a.store != nil {
		a.store.Close()
	}
}
