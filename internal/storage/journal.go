// Package storage journals notified events to disk and to the event database.
package storage

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aimonitor/internal/logger"
	"aimonitor/internal/model"
	"aimonitor/internal/notifier"
	"aimonitor/internal/repository"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const timestampLayout = "2006-01-02_15-04-05"

type pending struct {
	id         string
	message    string
	confidence float64
	box        *model.Box
	timestamp  time.Time
	img        image.Image
}

// Options configure a Journal.
type Options struct {
	Sensor      string
	ImagesDir   string
	BufferLimit int
	// FlushInterval defaults to 30 seconds.
	FlushInterval time.Duration
	Clock         clock.Clock
}

// Journal is a Notifier decorator. Every notified event is buffered in memory
// and later written to ImagesDir and the event repository, then the call is
// forwarded to the wrapped notifier.
type Journal struct {
	next   notifier.Notifier
	repo   repository.EventRepository
	opts   Options
	logger *logger.Logger

	mu      sync.Mutex
	buffer  []pending
	dropped int
	// detail is the detection announced by Detail for the next Notify.
	detail *model.Detection
}

var _ notifier.Notifier = (*Journal)(nil)

// NewJournal wraps next. A nil next only journals.
func NewJournal(next notifier.Notifier, repo repository.EventRepository, opts Options, logger *logger.Logger) *Journal {
	if opts.BufferLimit <= 0 {
		opts.BufferLimit = 10
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Journal{
		next:   next,
		repo:   repo,
		opts:   opts,
		logger: logger,
		buffer: make([]pending, 0, opts.BufferLimit),
	}
}

// Detail records the score and box of the detection that the next Notify
// reports. Sensors call it from their loop just before the callback; a Notify
// whose message does not match the detail's label is journaled without them.
func (j *Journal) Detail(d model.Detection) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.detail = &d
}

// Notify buffers the event and forwards it. Events beyond the buffer limit are
// dropped from the journal until the next flush but are still forwarded.
func (j *Journal) Notify(ctx context.Context, message string, img image.Image) {
	j.add(message, img)
	if j.next != nil {
		j.next.Notify(ctx, message, img)
	}
}

func (j *Journal) add(message string, img image.Image) {
	if img == nil {
		j.mu.Lock()
		j.detail = nil
		j.mu.Unlock()
		j.logger.Warning("Journal: event %q has no image, not recorded", message)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	detail := j.detail
	j.detail = nil

	if len(j.buffer) >= j.opts.BufferLimit {
		j.dropped++
		return
	}
	p := pending{
		id:        uuid.NewString(),
		message:   message,
		timestamp: j.opts.Clock.Now(),
		img:       img,
	}
	if detail != nil && detail.Label == message {
		p.confidence = detail.Confidence
		p.box = detail.Box
	}
	j.buffer = append(j.buffer, p)
	j.logger.Debug("Buffer size: %d/%d", len(j.buffer), j.opts.BufferLimit)
}

// Pending returns the number of buffered events.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (j *Journal) Run(ctx context.Context) error {
	ticker := j.opts.Clock.Ticker(j.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := j.Flush(); err != nil {
				j.logger.Error("Journal: final flush failed: %v", err)
			}
			return nil
		case <-ticker.C:
			if _, err := j.Flush(); err != nil {
				j.logger.Error("Journal: flush failed: %v", err)
			}
		}
	}
}

// Flush writes the buffered images and their rows, returning how many events
// were recorded. Images that fail to save are skipped.
func (j *Journal) Flush() (int, error) {
	j.mu.Lock()
	batch := j.buffer
	dropped := j.dropped
	j.buffer = make([]pending, 0, j.opts.BufferLimit)
	j.dropped = 0
	j.mu.Unlock()

	if dropped > 0 {
		j.logger.Warning("Journal: buffer full, %d events not recorded", dropped)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(j.opts.ImagesDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create image directory: %w", err)
	}

	var errs error
	events := make([]model.Event, 0, len(batch))
	for _, p := range batch {
		ev, err := j.save(p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		events = append(events, ev)
	}

	if len(events) > 0 {
		if err := j.repo.InsertBatch(events); err != nil {
			return 0, multierr.Append(errs, err)
		}
	}

	j.logger.Info("💾 Flushed %d events to %s", len(events), j.opts.ImagesDir)
	return len(events), errs
}

func (j *Journal) save(p pending) (model.Event, error) {
	filename := fmt.Sprintf("%s_%s_%s_%s.jpg",
		p.timestamp.Format(timestampLayout), j.opts.Sensor, p.message, p.id[:8])
	fullpath := filepath.Join(j.opts.ImagesDir, filename)

	if err := imaging.Save(p.img, fullpath); err != nil {
		return model.Event{}, fmt.Errorf("failed to save image %s: %w", filename, err)
	}
	info, err := os.Stat(fullpath)
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to stat image %s: %w", filename, err)
	}

	return model.Event{
		ID:         p.id,
		Sensor:     j.opts.Sensor,
		Message:    p.message,
		Confidence: p.confidence,
		Box:        p.box,
		Timestamp:  p.timestamp,
		Filename:   filename,
		FilePath:   fullpath,
		FileSize:   info.Size(),
	}, nil
}

// Prune removes events recorded before cutoff together with their image files.
func Prune(repo repository.EventRepository, cutoff time.Time) (int64, error) {
	old, err := repo.GetAll(&model.EventFilter{EndDate: cutoff})
	if err != nil {
		return 0, err
	}

	var errs error
	for _, ev := range old {
		if !ev.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(ev.FilePath); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}

	n, err := repo.DeleteBefore(cutoff)
	return n, multierr.Append(errs, err)
}
