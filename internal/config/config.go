package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Sensor backends.
const (
	SensorWebcam = "webcam"
	SensorIMX500 = "imx500"
)

// Notifier backends.
const (
	NotifierConsole   = "console"
	NotifierSlack     = "slack"
	NotifierWebsocket = "websocket"
)

var (
	// ErrMissingCredential is returned when the Slack notifier is selected without SLACK_TOKEN.
	ErrMissingCredential = errors.New("SLACK_TOKEN environment variable not set")
	// ErrUnsupportedSensor is returned for an unknown sensor backend.
	ErrUnsupportedSensor = errors.New("unsupported sensor backend")
	// ErrNoNotifier is returned when no notifier backend was selected.
	ErrNoNotifier = errors.New("no notifier selected")
)

type Config struct {
	Sensor       string
	Notifier     string
	SlackChannel string
	SlackToken   string
	ViewerAddr   string
	FPS          float64

	LogDirectory string
	LogLevel     string

	CameraDevice int
	DrainFrames  int
	ModelPath    string
	ConfigPath   string
	Annotate     bool

	IMX500URL           string
	IMX500BoxNormalized bool
	IMX500BoxOrder      string // "yx" (default) or "xy"
	IMX500Task          string

	JournalEnabled       bool
	DatabasePath         string
	ImageDirectory       string
	ImageBufferLimit     int
	ImageBufferFlushSecs int
	ViewerPassword       string
}

// Load reads .env (if present) and then the environment. CLI flags are applied on top by the caller.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		SlackToken:           getEnv("SLACK_TOKEN", ""),
		FPS:                  getEnvAsFloat("FPS", 4),
		LogDirectory:         getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		CameraDevice:         getEnvAsInt("CAMERA_DEVICE", 0),
		DrainFrames:          getEnvAsInt("DRAIN_FRAMES", 10),
		ModelPath:            getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:           getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		Annotate:             getEnvAsBool("ANNOTATE", true),
		IMX500URL:            getEnv("IMX500_URL", "ws://127.0.0.1:8765/imx500"),
		IMX500BoxNormalized:  getEnvAsBool("IMX500_BBOX_NORMALIZED", true),
		IMX500BoxOrder:       getEnv("IMX500_BBOX_ORDER", "yx"),
		IMX500Task:           getEnv("IMX500_TASK", "object detection"),
		DatabasePath:         getEnv("DB_PATH", filepath.Join(".", "data", "events.db")),
		ImageDirectory:       getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		ImageBufferLimit:     getEnvAsInt("BUFFER_LIMIT", 10),
		ImageBufferFlushSecs: getEnvAsInt("FLUSH_INTERVAL", 30),
		ViewerPassword:       getEnv("VIEWER_PASSWORD", ""),
	}
}

// Validate reports configuration errors that must stop the process before any device is opened.
func (c *Config) Validate() error {
	switch c.Sensor {
	case SensorWebcam, SensorIMX500:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSensor, c.Sensor)
	}

	switch c.Notifier {
	case NotifierConsole:
	case NotifierSlack:
		if c.SlackChannel == "" {
			return errors.New("slack channel must not be empty")
		}
		if c.SlackToken == "" {
			return ErrMissingCredential
		}
	case NotifierWebsocket:
		if c.ViewerAddr == "" {
			return errors.New("websocket viewer address must not be empty")
		}
	case "":
		return ErrNoNotifier
	default:
		return fmt.Errorf("unsupported notifier backend: %q", c.Notifier)
	}

	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", c.FPS)
	}
	if c.Sensor == SensorIMX500 && c.IMX500BoxOrder != "yx" && c.IMX500BoxOrder != "xy" {
		return fmt.Errorf("IMX500_BBOX_ORDER must be \"yx\" or \"xy\", got %q", c.IMX500BoxOrder)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
