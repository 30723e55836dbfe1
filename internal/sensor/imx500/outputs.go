package imx500

import (
	"errors"
	"fmt"
	"math"

	"aimonitor/internal/model"
)

// ObjectDetectionTask is the only network task the sensor accepts.
const ObjectDetectionTask = "object detection"

// ErrUnsupportedTask is returned by Open when the network is not an object detector.
var ErrUnsupportedTask = errors.New("network is not an object detection task")

// Intrinsics describe how the accelerator network lays out its box tensor.
type Intrinsics struct {
	// Normalized is true when boxes are in input-tensor pixels and must be
	// divided by the input height to become relative coordinates.
	Normalized bool
	// Order is "yx" for (y0, x0, y1, x1) boxes or "xy" for (x0, y0, x1, y1).
	Order string
	Task  string
}

// Outputs are the post-processed tensors of one inference.
type Outputs struct {
	Boxes   [][4]float64 `json:"boxes"`
	Scores  []float64    `json:"scores"`
	Classes []float64    `json:"classes"`
}

// Candidates converts the tensors to frame-pixel candidates. inputH is the
// network input height; frameW and frameH the size of the captured image.
func (in Intrinsics) Candidates(out *Outputs, inputH, frameW, frameH int) ([]model.Candidate, error) {
	n := len(out.Boxes)
	if len(out.Scores) != n || len(out.Classes) != n {
		return nil, fmt.Errorf("mismatched output tensors: %d boxes, %d scores, %d classes",
			n, len(out.Scores), len(out.Classes))
	}
	if in.Normalized && inputH <= 0 {
		return nil, fmt.Errorf("invalid input height %d", inputH)
	}

	candidates := make([]model.Candidate, 0, n)
	for i, raw := range out.Boxes {
		b := raw
		if in.Normalized {
			for k := range b {
				b[k] /= float64(inputH)
			}
		}
		if in.Order == "xy" {
			b = [4]float64{b[1], b[0], b[3], b[2]}
		}

		// b is (y0, x0, y1, x1) in [0,1].
		x0 := clamp(b[1]) * float64(frameW)
		y0 := clamp(b[0]) * float64(frameH)
		x1 := clamp(b[3]) * float64(frameW)
		y1 := clamp(b[2]) * float64(frameH)

		candidates = append(candidates, model.Candidate{
			ClassID:    int(out.Classes[i]),
			Confidence: out.Scores[i],
			Box: model.Box{
				X:      int(math.Round(x0)),
				Y:      int(math.Round(y0)),
				Width:  int(math.Round(x1 - x0)),
				Height: int(math.Round(y1 - y0)),
			},
		})
	}
	return candidates, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
