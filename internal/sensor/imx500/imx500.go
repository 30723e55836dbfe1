// Package imx500 reads frames and on-sensor inference results from an IMX500
// accelerator camera. The camera is driven by a sidecar process that streams
// one JSON message per captured frame over a WebSocket.
package imx500

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aimonitor/internal/config"
	"aimonitor/internal/detect"
	"aimonitor/internal/logger"
	"aimonitor/internal/sensor"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
)

const (
	// Threshold is the minimum (exclusive) person confidence.
	Threshold = 0.55

	handshakeTimeout = 10 * time.Second
)

// Message is one frame as streamed by the sidecar. Outputs is null while the
// accelerator has no inference result for the frame.
type Message struct {
	Camera    string   `json:"camera"`
	Image     string   `json:"image"`
	Outputs   *Outputs `json:"outputs"`
	InputSize [2]int   `json:"input_size"`
}

// Backend implements sensor.Backend over the sidecar stream.
type Backend struct {
	url        string
	intrinsics Intrinsics
	logger     *logger.Logger
	dialer     *websocket.Dialer

	conn    *websocket.Conn
	inbox   chan Message
	readErr chan error
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

var _ sensor.Backend = (*Backend)(nil)

// NewBackend creates a backend for the sidecar at url.
func NewBackend(url string, intrinsics Intrinsics, logger *logger.Logger) *Backend {
	return &Backend{
		url:        url,
		intrinsics: intrinsics,
		logger:     logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// New builds the IMX500 sensor: every person above Threshold is reported.
func New(cfg *config.Config, onEvent sensor.Callback, logger *logger.Logger) *sensor.Poller {
	backend := NewBackend(cfg.IMX500URL, Intrinsics{
		Normalized: cfg.IMX500BoxNormalized,
		Order:      cfg.IMX500BoxOrder,
		Task:       cfg.IMX500Task,
	}, logger)

	return sensor.NewPoller(backend, onEvent, sensor.Options{
		Rate:   cfg.FPS,
		Filter: detect.Filter{ClassID: detect.COCOPersonClass, Threshold: Threshold},
		Policy: sensor.EachMatch,
	}, logger)
}

func (b *Backend) Name() string { return config.SensorIMX500 }

// Open validates the network task and connects to the sidecar.
func (b *Backend) Open(ctx context.Context) error {
	if b.intrinsics.Task != "" && b.intrinsics.Task != ObjectDetectionTask {
		return fmt.Errorf("%w: %q", ErrUnsupportedTask, b.intrinsics.Task)
	}

	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to sidecar: %w", err)
	}

	b.conn = conn
	b.inbox = make(chan Message, 1)
	b.readErr = make(chan error, 1)
	b.dropped.Store(0)

	b.wg.Add(1)
	go b.readLoop()

	b.logger.Info("Connected to IMX500 sidecar at %s", b.url)
	return nil
}

// readLoop keeps only the newest message in the inbox so Next always sees the
// freshest frame.
func (b *Backend) readLoop() {
	defer b.wg.Done()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			b.readErr <- err
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warning("IMX500: discarding malformed message: %v", err)
			continue
		}

		select {
		case b.inbox <- msg:
		default:
			select {
			case <-b.inbox:
				b.dropped.Add(1)
			default:
			}
			b.inbox <- msg
		}
	}
}

// Next waits for the newest frame and converts its outputs.
func (b *Backend) Next(ctx context.Context) (sensor.Frame, error) {
	select {
	case <-ctx.Done():
		return sensor.Frame{}, ctx.Err()
	case msg := <-b.inbox:
		return b.frame(msg)
	case err := <-b.readErr:
		return sensor.Frame{}, fmt.Errorf("sidecar stream closed: %w", err)
	}
}

func (b *Backend) frame(msg Message) (sensor.Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(msg.Image)
	if err != nil {
		return sensor.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return sensor.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	if msg.Outputs == nil {
		return sensor.Frame{Image: img}, nil
	}

	size := img.Bounds().Size()
	candidates, err := b.intrinsics.Candidates(msg.Outputs, msg.InputSize[1], size.X, size.Y)
	if err != nil {
		// Treated like a frame without output so the previous detections are reused.
		b.logger.Warning("IMX500: %v", err)
		return sensor.Frame{Image: img}, nil
	}

	return sensor.Frame{Image: img, Candidates: candidates, Ready: true}, nil
}

// Dropped returns how many frames were overwritten before Next consumed them.
func (b *Backend) Dropped() uint64 {
	return b.dropped.Load()
}

// Close disconnects from the sidecar and waits for the reader to exit.
func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.wg.Wait()
	b.conn = nil

	if b.dropped.Load() > 0 {
		b.logger.Debug("IMX500: %d stale frames skipped", b.dropped.Load())
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
