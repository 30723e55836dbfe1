package sensor

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aimonitor/internal/detect"
	"aimonitor/internal/logger"
	"aimonitor/internal/model"
	slacknotifier "aimonitor/internal/notifier/slack"

	"github.com/slack-go/slack"
)

// fakeBackend replays scripted frames and then blocks until the loop is cancelled.
type fakeBackend struct {
	mu        sync.Mutex
	frames    []Frame
	next      int
	openErr   error
	nextErr   error
	opening   chan struct{}
	opens     int
	closes    int
	exhausted chan struct{}
	once      sync.Once
}

func newFakeBackend(frames ...Frame) *fakeBackend {
	return &fakeBackend{frames: frames, exhausted: make(chan struct{})}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opens++
	openErr, opening := f.openErr, f.opening
	f.mu.Unlock()

	if opening != nil {
		// Simulates a slow connect that only ends when ctx is cancelled.
		close(opening)
		<-ctx.Done()
		return ctx.Err()
	}
	return openErr
}

func (f *fakeBackend) Next(ctx context.Context) (Frame, error) {
	f.mu.Lock()
	if f.next < len(f.frames) {
		frame := f.frames[f.next]
		f.next++
		f.mu.Unlock()
		return frame, nil
	}
	nextErr := f.nextErr
	f.mu.Unlock()

	f.once.Do(func() { close(f.exhausted) })
	if nextErr != nil {
		return Frame{}, nextErr
	}
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeBackend) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type call struct {
	label string
	img   image.Image
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) callback(label string, img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{label: label, img: img})
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func testOptions(policy Policy) Options {
	return Options{
		Rate:   1000,
		Filter: detect.Filter{ClassID: detect.SSDPersonClass, Threshold: 0.5},
		Policy: policy,
	}
}

func newTestPoller(b Backend, r *recorder, policy Policy) *Poller {
	return NewPoller(b, r.callback, testOptions(policy), logger.NewWriterLogger(io.Discard))
}

// runUntilExhausted starts p, waits for the backend to run out of frames, stops p
// and returns Start's result.
func runUntilExhausted(t *testing.T, p *Poller, b *fakeBackend) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	select {
	case <-b.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("backend was never exhausted")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	return nil
}

func frameWith(candidates ...model.Candidate) Frame {
	return Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 64, 48)),
		Candidates: candidates,
		Ready:      true,
	}
}

func TestPoller_PersonDetected(t *testing.T) {
	frame := frameWith(model.Candidate{
		ClassID:    detect.SSDPersonClass,
		Confidence: 0.92,
		Box:        model.Box{X: 10, Y: 10, Width: 50, Height: 80},
	})
	b := newFakeBackend(frame)
	r := &recorder{}

	if err := runUntilExhausted(t, newTestPoller(b, r, FirstMatch), b); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	calls := r.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", len(calls))
	}
	if calls[0].label != "person" {
		t.Errorf("label = %q, expected person", calls[0].label)
	}
	if calls[0].img != frame.Image {
		t.Error("callback image should be the captured frame")
	}
}

func TestPoller_FiltersCandidates(t *testing.T) {
	tests := []struct {
		name      string
		candidate model.Candidate
	}{
		{"other class", model.Candidate{ClassID: 17, Confidence: 0.99}},
		{"confidence equal to threshold", model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.5}},
		{"confidence below threshold", model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(frameWith(tt.candidate))
			r := &recorder{}

			if err := runUntilExhausted(t, newTestPoller(b, r, EachMatch), b); err != nil {
				t.Fatalf("Start returned error: %v", err)
			}
			if n := len(r.snapshot()); n != 0 {
				t.Errorf("expected no callbacks, got %d", n)
			}
		})
	}
}

func TestPoller_Policy(t *testing.T) {
	two := []model.Candidate{
		{ClassID: detect.SSDPersonClass, Confidence: 0.8},
		{ClassID: detect.SSDPersonClass, Confidence: 0.7},
	}

	tests := []struct {
		policy   Policy
		expected int
	}{
		{FirstMatch, 1},
		{EachMatch, 2},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			b := newFakeBackend(frameWith(two...))
			r := &recorder{}

			if err := runUntilExhausted(t, newTestPoller(b, r, tt.policy), b); err != nil {
				t.Fatalf("Start returned error: %v", err)
			}
			if n := len(r.snapshot()); n != tt.expected {
				t.Errorf("expected %d callbacks, got %d", tt.expected, n)
			}
		})
	}
}

func TestPoller_FallbackToLastDetections(t *testing.T) {
	first := frameWith(model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.9})
	pending := Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8)), Ready: false}
	b := newFakeBackend(first, pending, pending)
	r := &recorder{}

	if err := runUntilExhausted(t, newTestPoller(b, r, EachMatch), b); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	calls := r.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 callbacks (1 fresh + 2 fallback), got %d", len(calls))
	}
	for i, c := range calls {
		if c.img != first.Image {
			t.Errorf("callback %d should carry the image of the last ready frame", i)
		}
	}
}

func TestPoller_FallbackAfterEmptyCycle(t *testing.T) {
	person := frameWith(model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.9})
	empty := frameWith()
	pending := Frame{Ready: false}
	b := newFakeBackend(person, empty, pending)
	r := &recorder{}

	if err := runUntilExhausted(t, newTestPoller(b, r, EachMatch), b); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if n := len(r.snapshot()); n != 1 {
		t.Errorf("expected only the fresh detection, got %d callbacks", n)
	}
}

func TestPoller_StopTwiceReleasesOnce(t *testing.T) {
	b := newFakeBackend()
	p := newTestPoller(b, &recorder{}, FirstMatch)

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	<-b.exhausted

	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop after exit failed: %v", err)
	}

	opens, closes := b.counts()
	if opens != 1 || closes != 1 {
		t.Errorf("expected 1 open and 1 close, got %d opens and %d closes", opens, closes)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, expected idle", p.State())
	}
}

func TestPoller_StopBeforeStart(t *testing.T) {
	b := newFakeBackend()
	p := newTestPoller(b, &recorder{}, FirstMatch)

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop on idle sensor failed: %v", err)
	}
	opens, closes := b.counts()
	if opens != 0 || closes != 0 {
		t.Errorf("idle Stop touched the device: %d opens, %d closes", opens, closes)
	}
}

func TestPoller_OpenError(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("no camera")
	p := newTestPoller(b, &recorder{}, FirstMatch)

	err := p.Start(context.Background())
	if !errors.Is(err, b.openErr) {
		t.Fatalf("expected open error, got %v", err)
	}
	if _, closes := b.counts(); closes != 0 {
		t.Errorf("device that never opened should not be closed, got %d closes", closes)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, expected idle", p.State())
	}
}

func TestPoller_DeviceErrorMidLoop(t *testing.T) {
	b := newFakeBackend(frameWith())
	b.nextErr = errors.New("frame read failed")
	p := newTestPoller(b, &recorder{}, FirstMatch)

	err := p.Start(context.Background())
	if !errors.Is(err, b.nextErr) {
		t.Fatalf("expected read error, got %v", err)
	}
	if _, closes := b.counts(); closes != 1 {
		t.Errorf("expected device to be released once, got %d closes", closes)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, expected idle", p.State())
	}
}

func TestPoller_StartWhileRunning(t *testing.T) {
	b := newFakeBackend()
	p := newTestPoller(b, &recorder{}, FirstMatch)

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	<-b.exhausted

	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	p.Stop()
	<-done
}

func TestPoller_ContextCancel(t *testing.T) {
	b := newFakeBackend()
	p := newTestPoller(b, &recorder{}, FirstMatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	<-b.exhausted
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if _, closes := b.counts(); closes != 1 {
		t.Errorf("expected 1 close, got %d", closes)
	}
}

func TestPoller_StopFromCallback(t *testing.T) {
	frame := frameWith(model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.9})
	b := newFakeBackend(frame, frame, frame)

	var p *Poller
	calls := 0
	p = NewPoller(b, func(string, image.Image) {
		calls++
		p.Stop()
	}, testOptions(FirstMatch), logger.NewWriterLogger(io.Discard))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected loop to end after first callback, got %d calls", calls)
	}
	if _, closes := b.counts(); closes != 1 {
		t.Errorf("expected 1 close, got %d", closes)
	}
}

func TestPoller_StopDuringOpen(t *testing.T) {
	b := newFakeBackend()
	b.opening = make(chan struct{})
	p := newTestPoller(b, &recorder{}, FirstMatch)

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	<-b.opening

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop while opening should be a clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if _, closes := b.counts(); closes != 0 {
		t.Errorf("device that never opened should not be closed, got %d closes", closes)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %s, expected idle", p.State())
	}
}

func TestPoller_CancelDuringOpen(t *testing.T) {
	b := newFakeBackend()
	b.opening = make(chan struct{})
	p := newTestPoller(b, &recorder{}, FirstMatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	<-b.opening
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancel while opening should be a clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// failingSlack rejects every post, like a revoked token would.
type failingSlack struct {
	posts atomic.Int32
}

func (f *failingSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.posts.Add(1)
	return "", "", errors.New("invalid_auth")
}

func (f *failingSlack) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	return nil, errors.New("invalid_auth")
}

func TestPoller_NotifierFailureKeepsLooping(t *testing.T) {
	frame := frameWith(model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.9})
	b := newFakeBackend(frame, frame, frame)

	api := &failingSlack{}
	log := logger.NewWriterLogger(io.Discard)
	n := slacknotifier.NewWithAPI(api, "#alerts", t.TempDir(), log)
	p := NewPoller(b, func(label string, img image.Image) {
		n.Notify(context.Background(), label, img)
	}, testOptions(FirstMatch), log)

	if err := runUntilExhausted(t, p, b); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := api.posts.Load(); got != 3 {
		t.Errorf("expected every cycle to reach the notifier, got %d posts", got)
	}
}

func TestPoller_ObserveSeesDispatchedDetections(t *testing.T) {
	frame := frameWith(
		model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.8, Box: model.Box{X: 1, Y: 2, Width: 3, Height: 4}},
		model.Candidate{ClassID: detect.SSDPersonClass, Confidence: 0.7},
	)
	b := newFakeBackend(frame)
	r := &recorder{}
	p := newTestPoller(b, r, FirstMatch)

	var seen []model.Detection
	p.Observe(func(d model.Detection) {
		if n := len(r.snapshot()); n != len(seen) {
			t.Errorf("observer ran after the callback (%d callbacks, %d observed)", n, len(seen))
		}
		seen = append(seen, d)
	})

	if err := runUntilExhausted(t, p, b); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected 1 observed detection, got %d", len(seen))
	}
	if seen[0].Confidence != 0.8 || seen[0].Box == nil || *seen[0].Box != (model.Box{X: 1, Y: 2, Width: 3, Height: 4}) {
		t.Errorf("unexpected observed detection: %s", seen[0])
	}
}
