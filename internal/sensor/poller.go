package sensor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"aimonitor/internal/detect"
	"aimonitor/internal/logger"
	"aimonitor/internal/model"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Options tune a Poller for a specific backend.
type Options struct {
	// Rate is the target frames per second. Pacing is advisory.
	Rate   float64
	Filter detect.Filter
	Label  string
	Policy Policy
	Clock  clock.Clock
}

// Poller implements Sensor on top of a Backend.
type Poller struct {
	backend Backend
	opts    Options
	onEvent Callback
	logger  *logger.Logger

	state atomic.Int32

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// deviceMu is held for the whole backend call of a cycle and while the
	// device is released, so Close never races an in-flight Next.
	deviceMu sync.Mutex
	open     bool

	// last is only touched by the loop goroutine.
	last []model.Detection

	// observe is set before Start and sees every dispatched detection.
	observe func(model.Detection)
}

var (
	_ Sensor     = (*Poller)(nil)
	_ Observable = (*Poller)(nil)
)

// NewPoller creates a Poller. The backend is not opened until Start.
func NewPoller(backend Backend, onEvent Callback, opts Options, logger *logger.Logger) *Poller {
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	if opts.Label == "" {
		opts.Label = detect.PersonLabel
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if onEvent == nil {
		onEvent = func(string, image.Image) {}
	}
	return &Poller{
		backend: backend,
		opts:    opts,
		onEvent: onEvent,
		logger:  logger,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Policy returns the per-cycle notification policy of this sensor.
func (p *Poller) Policy() Policy {
	return p.opts.Policy
}

// Observe registers fn to receive each detection right before its callback.
// It must be called before Start.
func (p *Poller) Observe(fn func(model.Detection)) {
	p.observe = fn
}

func (p *Poller) running() bool {
	return p.State() == StateRunning
}

// Start opens the backend and runs the polling loop. It returns nil after Stop
// or context cancellation and the backend error after a fatal device failure.
func (p *Poller) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelMu.Lock()
	p.cancel = cancel
	p.cancelMu.Unlock()

	if err := p.openBackend(ctx); err != nil {
		// A Stop or cancellation that interrupts Open is a requested shutdown.
		stopped := ctx.Err() != nil || !p.running()
		p.state.Store(int32(StateIdle))
		if stopped {
			p.logger.Info("🛑 Sensor %s stopped while opening", p.backend.Name())
			return nil
		}
		p.logger.Error("Sensor %s failed to start: %v", p.backend.Name(), err)
		return err
	}
	p.logger.Info("📹 Sensor %s started at %.2f fps (%s)", p.backend.Name(), p.opts.Rate, p.opts.Policy)

	limiter := rate.NewLimiter(rate.Limit(p.opts.Rate), 1)
	for p.running() {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if !p.running() {
			break
		}

		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil || !p.running() {
				break
			}
			p.state.Store(int32(StateError))
			p.logger.Error("Sensor %s stopped on device error: %v", p.backend.Name(), err)
			p.release()
			p.state.Store(int32(StateIdle))
			return err
		}
	}

	p.release()
	p.state.Store(int32(StateIdle))
	p.logger.Info("🛑 Sensor %s stopped", p.backend.Name())
	return nil
}

// Stop ends the loop and releases the device. It waits for an in-flight cycle
// to finish before releasing. Calling it on an idle sensor does nothing.
func (p *Poller) Stop() error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	p.cancelMu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancelMu.Unlock()

	return p.release()
}

func (p *Poller) openBackend(ctx context.Context) error {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()

	// Stop may have won the race between the state swap and this lock.
	if !p.running() {
		return nil
	}
	if err := p.backend.Open(ctx); err != nil {
		return fmt.Errorf("open %s: %w", p.backend.Name(), err)
	}
	p.open = true
	return nil
}

// release closes the backend if it is open. Safe to call repeatedly.
func (p *Poller) release() error {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()

	if !p.open {
		return nil
	}
	p.open = false
	if err := p.backend.Close(); err != nil {
		p.logger.Warning("Error releasing %s: %v", p.backend.Name(), err)
		return fmt.Errorf("close %s: %w", p.backend.Name(), err)
	}
	return nil
}

func (p *Poller) cycle(ctx context.Context) error {
	p.deviceMu.Lock()
	if !p.open {
		p.deviceMu.Unlock()
		return nil
	}
	start := p.opts.Clock.Now()
	frame, err := p.backend.Next(ctx)
	elapsed := p.opts.Clock.Since(start)
	p.deviceMu.Unlock()

	if err != nil {
		return err
	}
	p.logger.Debug("Sensor %s cycle took %s (ready=%v, candidates=%d)",
		p.backend.Name(), elapsed, frame.Ready, len(frame.Candidates))

	p.dispatch(p.detections(frame))
	return nil
}

// detections filters the frame, falling back to the previous cycle's set when
// the detector had no output.
func (p *Poller) detections(frame Frame) []model.Detection {
	if !frame.Ready {
		return p.last
	}

	now := p.opts.Clock.Now()
	var out []model.Detection
	for _, c := range p.opts.Filter.Apply(frame.Candidates) {
		box := c.Box
		out = append(out, model.Detection{
			Label:      p.opts.Label,
			ClassID:    c.ClassID,
			Confidence: c.Confidence,
			Box:        &box,
			Image:      frame.Image,
			CapturedAt: now,
		})
	}
	p.last = out
	return out
}

func (p *Poller) dispatch(detections []model.Detection) {
	for _, d := range detections {
		p.logger.Info("Detected %s", d)
		if p.observe != nil {
			p.observe(d)
		}
		p.onEvent(d.Label, d.Image)
		if p.opts.Policy == FirstMatch {
			return
		}
	}
}
