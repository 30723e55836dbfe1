// Package main is the aimonitor command.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"aimonitor/internal/app"
	"aimonitor/internal/config"
	"aimonitor/internal/logger"
	"aimonitor/internal/repository/sqlite"
	"aimonitor/internal/sensor"
	"aimonitor/internal/sensor/imx500"
	"aimonitor/internal/sensor/webcam"
	"aimonitor/internal/storage"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagSensor    = "sensor"
	flagSlack     = "slack"
	flagConsole   = "console"
	flagWebsocket = "websocket"
	flagFPS       = "fps"
	flagJournal   = "journal"
	flagPruneDays = "prune-days"
	flagReindex   = "reindex"
)

var sensors = map[string]app.SensorFactory{
	config.SensorWebcam: func(cfg *config.Config, onEvent sensor.Callback, logger *logger.Logger) sensor.Sensor {
		return webcam.New(cfg, onEvent, logger)
	},
	config.SensorIMX500: func(cfg *config.Config, onEvent sensor.Callback, logger *logger.Logger) sensor.Sensor {
		return imx500.New(cfg, onEvent, logger)
	},
}

func main() {
	cliApp := &cli.App{
		Name:  "aimonitor",
		Usage: "watch a camera and notify when a person shows up",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the sensor and deliver notifications",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagSensor,
						Required: true,
						Usage:    "type of sensor to use: webcam or imx500",
					},
					&cli.StringFlag{
						Name:  flagSlack,
						Usage: "post notifications to the Slack `CHANNEL`, using the token in SLACK_TOKEN",
					},
					&cli.BoolFlag{
						Name:  flagConsole,
						Usage: "print notifications to the console",
					},
					&cli.StringFlag{
						Name:  flagWebsocket,
						Usage: "serve live notifications to viewers on `ADDR`",
					},
					&cli.Float64Flag{
						Name:  flagFPS,
						Usage: "target frames per second (defaults to FPS or 4)",
					},
					&cli.BoolFlag{
						Name:  flagJournal,
						Usage: "record every notification to IMAGE_DIR and DB_PATH",
					},
				},
				Action: runAction,
			},
			{
				Name:  "events",
				Usage: "print statistics about journaled events",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagReindex,
						Usage: "record journal images in IMAGE_DIR that have no event row",
					},
					&cli.IntFlag{
						Name:  flagPruneDays,
						Usage: "remove events older than `DAYS` before printing",
					},
				},
				Action: eventsAction,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags overlays the run flags on the environment configuration.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	cfg.Sensor = c.String(flagSensor)

	selected := 0
	if c.IsSet(flagSlack) {
		cfg.Notifier = config.NotifierSlack
		cfg.SlackChannel = c.String(flagSlack)
		selected++
	}
	if c.Bool(flagConsole) {
		cfg.Notifier = config.NotifierConsole
		selected++
	}
	if c.IsSet(flagWebsocket) {
		cfg.Notifier = config.NotifierWebsocket
		cfg.ViewerAddr = c.String(flagWebsocket)
		selected++
	}
	if selected > 1 {
		return fmt.Errorf("--%s, --%s and --%s are mutually exclusive", flagSlack, flagConsole, flagWebsocket)
	}

	if c.IsSet(flagFPS) {
		cfg.FPS = c.Float64(flagFPS)
	}
	if c.Bool(flagJournal) {
		cfg.JournalEnabled = true
	}
	return nil
}

func runAction(c *cli.Context) error {
	cfg := config.Load()
	if err := applyFlags(c, cfg); err != nil {
		return cli.Exit(err, 1)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err, 1)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer log.Close()

	application, err := app.New(cfg, log, sensors)
	if err != nil {
		log.Error("Failed to start: %v", err)
		return cli.Exit(err, 1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error("%v", err)
		return cli.Exit(err, 1)
	}
	log.Info("👋 Shutdown complete")
	return nil
}

func eventsAction(c *cli.Context) error {
	cfg := config.Load()

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to open database: %w", err), 1)
	}
	defer db.Close()
	repo := sqlite.NewEventRepository(db)

	if c.Bool(flagReindex) {
		n, err := storage.Reindex(repo, cfg.ImageDirectory)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to reindex images: %w", err), 1)
		}
		fmt.Printf("✅ Indexed %d images from %s\n", n, cfg.ImageDirectory)
	}

	if days := c.Int(flagPruneDays); days > 0 {
		n, err := storage.Prune(repo, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to prune events: %w", err), 1)
		}
		fmt.Printf("🗑️  Removed %d events older than %d days\n", n, days)
	}

	stats, err := repo.GetStats()
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to load stats: %w", err), 1)
	}

	fmt.Printf("📁 Database: %s\n", cfg.DatabasePath)
	fmt.Printf("Events: %d (%.1f MB)\n", stats.TotalEvents, float64(stats.TotalSizeBytes)/(1<<20))
	printCounts("Per sensor", stats.PerSensor)
	printCounts("Per message", stats.PerMessage)
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}
