package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"aimonitor/internal/config"
	"aimonitor/internal/logger"
	"aimonitor/internal/notifier"
	"aimonitor/internal/notifier/console"
	"aimonitor/internal/notifier/slack"
	"aimonitor/internal/notifier/websocket"
	"aimonitor/internal/repository"
	"aimonitor/internal/repository/sqlite"
	"aimonitor/internal/routes"
	"aimonitor/internal/sensor"
	"aimonitor/internal/storage"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// SensorFactory builds a sensor that reports detections to onEvent.
type SensorFactory func(cfg *config.Config, onEvent sensor.Callback, logger *logger.Logger) sensor.Sensor

type App struct {
	config   *config.Config
	logger   *logger.Logger
	sensor   sensor.Sensor
	notifier notifier.Notifier
	hub      *websocket.Hub
	journal  *storage.Journal
	db       *sqlite.DB
	events   repository.EventRepository

	// notifyCtx is set by Run before the sensor starts.
	notifyCtx context.Context
}

// New validates cfg and wires the notifier chain and the sensor. Configuration
// errors are returned before the sensor factory is called, so no device is touched.
func New(cfg *config.Config, logger *logger.Logger, sensors map[string]SensorFactory) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, ok := sensors[cfg.Sensor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedSensor, cfg.Sensor)
	}

	a := &App{
		config:    cfg,
		logger:    logger,
		notifyCtx: context.Background(),
	}

	switch cfg.Notifier {
	case config.NotifierConsole:
		a.notifier = console.New(logger)
	case config.NotifierSlack:
		a.notifier = slack.New(cfg.SlackToken, cfg.SlackChannel, logger)
	case config.NotifierWebsocket:
		a.hub = websocket.NewHub(cfg.Sensor, logger)
		a.notifier = a.hub
	}

	if cfg.JournalEnabled {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.db = db
		a.events = sqlite.NewEventRepository(db)
		a.journal = storage.NewJournal(a.notifier, a.events, storage.Options{
			Sensor:        cfg.Sensor,
			ImagesDir:     cfg.ImageDirectory,
			BufferLimit:   cfg.ImageBufferLimit,
			FlushInterval: time.Duration(cfg.ImageBufferFlushSecs) * time.Second,
		}, logger)
		a.notifier = a.journal
	}

	a.sensor = factory(cfg, a.onEvent, logger)
	if obs, ok := a.sensor.(sensor.Observable); ok && a.journal != nil {
		obs.Observe(a.journal.Detail)
	}
	return a, nil
}

func (a *App) onEvent(label string, img image.Image) {
	a.notifier.Notify(a.notifyCtx, label, img)
}

// Run starts the sensor and the background services and blocks until ctx is
// done or the sensor fails. A requested shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.notifyCtx = ctx

	g, gctx := errgroup.WithContext(ctx)

	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(gctx) })
		a.serveViewer(gctx, g)
	}
	if a.journal != nil {
		g.Go(func() error { return a.journal.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.sensor.Stop()
	})
	g.Go(func() error {
		// The other services only stop on cancellation.
		defer cancel()
		if err := a.sensor.Start(gctx); err != nil {
			return fmt.Errorf("sensor %s: %w", a.config.Sensor, err)
		}
		return nil
	})

	a.logger.Info("🚀 aimonitor running: sensor=%s notifier=%s fps=%.2f journal=%v",
		a.config.Sensor, a.config.Notifier, a.config.FPS, a.config.JournalEnabled)
	return g.Wait()
}

func (a *App) serveViewer(ctx context.Context, g *errgroup.Group) {
	server := &http.Server{
		Addr: a.config.ViewerAddr,
		Handler: routes.SetupRoutes(ctx, routes.Deps{
			Hub:      a.hub,
			Events:   a.events,
			Logger:   a.logger,
			Password: a.config.ViewerPassword,
		}),
	}

	g.Go(func() error {
		a.logger.Info("📍 Viewer: http://%s/api/view", a.config.ViewerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("viewer server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// Close releases the journal database.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
