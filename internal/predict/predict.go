// Package predict turns raw classifier output into labeled results.
package predict

import (
	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/model"
)

// UnknownLabel is used when no class clears the confidence threshold.
const UnknownLabel = "unknown"

// Result is the labeled outcome for one batch item.
type Result struct {
	Scores     [][]float32
	BatchIndex int
	Label      string
	Confidence float32
	// TopClass is the arg-max class regardless of the label policy.
	TopClass string
}

// Split cuts raw output along the batch dimension into batchSize equal
// vectors, preserving order.
func Split(raw model.RawScores, batchSize int) ([][]float32, error) {
	if batchSize < 1 {
		return nil, faults.New(faults.KindShapeMismatch, "split scores", "batch size %d must be positive", batchSize)
	}
	if len(raw.Shape) > 0 && raw.Shape[0] != int64(batchSize) {
		return nil, faults.New(faults.KindShapeMismatch, "split scores", "output batch dimension %d, want %d", raw.Shape[0], batchSize)
	}
	if len(raw.Data)%batchSize != 0 {
		return nil, faults.New(faults.KindShapeMismatch, "split scores", "%d values do not divide into %d items", len(raw.Data), batchSize)
	}

	width := len(raw.Data) / batchSize
	out := make([][]float32, batchSize)
	for i := range out {
		chunk := make([]float32, width)
		copy(chunk, raw.Data[i*width:(i+1)*width])
		out[i] = chunk
	}
	return out, nil
}

// ArgMax returns the index and value of the highest score. It returns -1 for
// an empty vector.
func ArgMax(scores []float32) (int, float32) {
	if len(scores) == 0 {
		return -1, 0
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}

// Interpret splits raw output and labels the item at batchIndex.
func Interpret(raw model.RawScores, batchSize, batchIndex int, classes []string, policy LabelPolicy) (*Result, error) {
	vectors, err := Split(raw, batchSize)
	if err != nil {
		return nil, err
	}
	if batchIndex < 0 || batchIndex >= len(vectors) {
		return nil, faults.New(faults.KindShapeMismatch, "interpret scores", "batch index %d out of range [0,%d)", batchIndex, len(vectors))
	}

	scores := vectors[batchIndex]
	idx, confidence := ArgMax(scores)
	top := UnknownLabel
	if idx >= 0 && idx < len(classes) {
		top = classes[idx]
	}

	label := policy.Label(scores, classes)
	return &Result{
		Scores:     vectors,
		BatchIndex: batchIndex,
		Label:      label,
		Confidence: confidence,
		TopClass:   top,
	}, nil
}

// Distribution maps each class to its score.
func Distribution(scores []float32, classes []string) map[string]float32 {
	out := make(map[string]float32, len(classes))
	for i, val := range scores {
		if i < len(classes) {
			out[classes[i]] = val
		}
	}
	return out
}
