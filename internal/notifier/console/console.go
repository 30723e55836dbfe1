// Package console prints notifications to standard output.
package console

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"aimonitor/internal/logger"
	"aimonitor/internal/notifier"
)

type Notifier struct {
	out    io.Writer
	logger *logger.Logger
	mu     sync.Mutex
}

var _ notifier.Notifier = (*Notifier)(nil)

// New creates a console notifier writing to stdout.
func New(logger *logger.Logger) *Notifier {
	return NewWithWriter(os.Stdout, logger)
}

// NewWithWriter creates a console notifier writing to out.
func NewWithWriter(out io.Writer, logger *logger.Logger) *Notifier {
	return &Notifier{out: out, logger: logger}
}

// Notify prints message on its own line. The image is ignored.
func (n *Notifier) Notify(ctx context.Context, message string, img image.Image) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := fmt.Fprintln(n.out, message); err != nil {
		n.logger.Error("Error printing notification: %v", err)
	}
}
