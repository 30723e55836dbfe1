// Package notifier defines the sink that delivers detection events to people.
package notifier

import (
	"context"
	"image"
)

// Notifier delivers a message and its image to an external sink.
//
// Notify is best effort: delivery failures are logged by the implementation and
// never returned, so a failing transport cannot stall or crash the sensor loop.
// Temporary resources used for one delivery are released before Notify returns.
type Notifier interface {
	Notify(ctx context.Context, message string, img image.Image)
}

// Func adapts a plain function to the Notifier interface.
type Func func(ctx context.Context, message string, img image.Image)

// Notify calls f.
func (f Func) Notify(ctx context.Context, message string, img image.Image) {
	f(ctx, message, img)
}
