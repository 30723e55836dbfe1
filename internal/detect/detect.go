// Package detect turns raw detector outputs into candidates and filters them
// down to the target class.
package detect

import (
	"fmt"

	"aimonitor/internal/model"
)

// PersonLabel is the label reported for qualifying detections.
const PersonLabel = "person"

const (
	// SSDPersonClass is the person id in the 1-indexed COCO map used by SSD MobileNet graphs.
	SSDPersonClass = 1
	// COCOPersonClass is the person id in the 0-indexed COCO map used by accelerator networks.
	COCOPersonClass = 0
)

// ssdRowWidth is the number of values per SSD output row:
// [batch_id, class_id, confidence, x1, y1, x2, y2].
const ssdRowWidth = 7

var ssdLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	8:  "truck",
	16: "bird",
	17: "cat",
	18: "dog",
}

// SSDLabel maps SSD class ids to human-readable labels.
func SSDLabel(classID int) string {
	if label, exists := ssdLabels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown%d", classID)
}

// ParseSSD decodes a flattened SSD output tensor. Coordinates in data are
// normalized to [0,1] and are scaled to a frame of frameW x frameH pixels.
func ParseSSD(data []float32, frameW, frameH int) []model.Candidate {
	rows := len(data) / ssdRowWidth
	candidates := make([]model.Candidate, 0, rows)

	for i := 0; i < rows; i++ {
		row := data[i*ssdRowWidth : (i+1)*ssdRowWidth]

		x := int(row[3] * float32(frameW))
		y := int(row[4] * float32(frameH))
		width := int(row[5]*float32(frameW)) - x
		height := int(row[6]*float32(frameH)) - y

		candidates = append(candidates, model.Candidate{
			ClassID:    int(row[1]),
			Confidence: float64(row[2]),
			Box:        model.Box{X: x, Y: y, Width: width, Height: height},
		})
	}
	return candidates
}

// Filter keeps candidates of one class whose confidence is strictly above Threshold.
type Filter struct {
	ClassID   int
	Threshold float64
}

// Match reports whether c qualifies. A confidence equal to the threshold does not.
func (f Filter) Match(c model.Candidate) bool {
	return c.ClassID == f.ClassID && c.Confidence > f.Threshold
}

// Apply returns the qualifying candidates in their original order.
func (f Filter) Apply(candidates []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, c := range candidates {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}
