// Package webcam captures frames from a local video device and runs an SSD
// MobileNet COCO network on them with OpenCV.
package webcam

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"time"

	"aimonitor/internal/config"
	"aimonitor/internal/detect"
	"aimonitor/internal/logger"
	"aimonitor/internal/model"
	"aimonitor/internal/sensor"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

const (
	// Threshold is the minimum (exclusive) person confidence.
	Threshold = 0.5

	blobSize = 300
)

var boxColor = color.RGBA{0, 255, 0, 0}

// Backend implements sensor.Backend with gocv.
type Backend struct {
	device     int
	drain      int
	fps        float64
	modelPath  string
	configPath string
	annotate   bool
	logger     *logger.Logger

	capture *gocv.VideoCapture
	net     gocv.Net
	frame   gocv.Mat
}

var _ sensor.Backend = (*Backend)(nil)

// NewBackend creates an unopened webcam backend.
func NewBackend(cfg *config.Config, logger *logger.Logger) *Backend {
	return &Backend{
		device:     cfg.CameraDevice,
		drain:      cfg.DrainFrames,
		fps:        cfg.FPS,
		modelPath:  cfg.ModelPath,
		configPath: cfg.ConfigPath,
		annotate:   cfg.Annotate,
		logger:     logger,
	}
}

// New builds the webcam sensor: at most one person is reported per frame.
func New(cfg *config.Config, onEvent sensor.Callback, logger *logger.Logger) *sensor.Poller {
	return sensor.NewPoller(NewBackend(cfg, logger), onEvent, sensor.Options{
		Rate:   cfg.FPS,
		Filter: detect.Filter{ClassID: detect.SSDPersonClass, Threshold: Threshold},
		Policy: sensor.FirstMatch,
	}, logger)
}

func (b *Backend) Name() string { return config.SensorWebcam }

// Open loads the network and then opens the capture device.
func (b *Backend) Open(ctx context.Context) error {
	net, err := b.loadNet()
	if err != nil {
		return err
	}

	capture, err := gocv.OpenVideoCapture(b.device)
	if err != nil {
		net.Close()
		return fmt.Errorf("failed to open video device %d: %w", b.device, err)
	}
	if !capture.IsOpened() {
		net.Close()
		capture.Close()
		return fmt.Errorf("video device %d is not available", b.device)
	}
	if b.fps > 0 {
		capture.Set(gocv.VideoCaptureFPS, b.fps)
	}

	b.net = net
	b.capture = capture
	b.frame = gocv.NewMat()
	b.logger.Info("Opened video device %d", b.device)
	return nil
}

func (b *Backend) loadNet() (gocv.Net, error) {
	if _, err := os.Stat(b.modelPath); os.IsNotExist(err) {
		return gocv.Net{}, fmt.Errorf("model file not found: %s", b.modelPath)
	}
	if _, err := os.Stat(b.configPath); os.IsNotExist(err) {
		return gocv.Net{}, fmt.Errorf("config file not found: %s", b.configPath)
	}

	net := gocv.ReadNet(b.modelPath, b.configPath)
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("failed to load network")
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to set preferable target: %w", err)
	}

	b.logger.Info("Detection network initialized successfully")
	return net, nil
}

// Next drops buffered frames, reads the newest one and runs the network on it.
func (b *Backend) Next(ctx context.Context) (sensor.Frame, error) {
	if b.drain > 0 {
		b.capture.Grab(b.drain)
	}
	if ok := b.capture.Read(&b.frame); !ok || b.frame.Empty() {
		return sensor.Frame{}, fmt.Errorf("failed to read frame from video device %d", b.device)
	}

	candidates, err := b.detect(b.frame)
	if err != nil {
		return sensor.Frame{}, err
	}

	if b.annotate {
		filter := detect.Filter{ClassID: detect.SSDPersonClass, Threshold: Threshold}
		for _, c := range filter.Apply(candidates) {
			gocv.Rectangle(&b.frame, c.Box.Rect(), boxColor, 2)
		}
	}

	img, err := b.frame.ToImage()
	if err != nil {
		return sensor.Frame{}, fmt.Errorf("failed to convert frame: %w", err)
	}
	return sensor.Frame{Image: img, Candidates: candidates, Ready: true}, nil
}

func (b *Backend) detect(mat gocv.Mat) ([]model.Candidate, error) {
	start := time.Now()
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(blobSize, blobSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}
	b.logger.Debug("Inference took %s", time.Since(start))
	return detect.ParseSSD(data, mat.Cols(), mat.Rows()), nil
}

// Close releases the device and the network.
func (b *Backend) Close() error {
	if b.capture == nil {
		return nil
	}
	err := multierr.Combine(
		b.capture.Close(),
		b.net.Close(),
		b.frame.Close(),
	)
	b.capture = nil
	b.logger.Info("Released video device %d", b.device)
	return err
}
