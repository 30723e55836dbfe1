package model

import (
	"fmt"
	"image"
	"time"
)

// Box is a bounding box in source-frame pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.X, b.Y, b.Width, b.Height)
}

// Candidate is one raw detector output before class and confidence filtering.
type Candidate struct {
	ClassID    int
	Confidence float64
	Box        Box
}

// Detection is one qualifying observation produced by a sensor. It is passed by
// value and never modified after construction; Image must be treated as read-only.
type Detection struct {
	Label      string
	ClassID    int
	Confidence float64
	Box        *Box
	Image      image.Image
	CapturedAt time.Time
}

func (d Detection) String() string {
	if d.Box == nil {
		return fmt.Sprintf("Detection for %s with %.2f", d.Label, d.Confidence)
	}
	return fmt.Sprintf("Detection for %s at %s with %.2f", d.Label, d.Box, d.Confidence)
}
