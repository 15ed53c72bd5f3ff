package predict

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Policy names accepted by NewPolicy.
const (
	PolicyFixed  = "fixed"
	PolicyArgMax = "argmax"
)

// DefaultFixedLabel is what the application has always stored, independent
// of the model output.
const DefaultFixedLabel = "bacterial"

// LabelPolicy chooses the label persisted for a score vector.
type LabelPolicy interface {
	Label(scores []float32, classes []string) string
	Name() string
}

// FixedLabel ignores the scores.
type FixedLabel struct {
	Value string
}

func (p FixedLabel) Label([]float32, []string) string {
	if p.Value == "" {
		return DefaultFixedLabel
	}
	return p.Value
}

func (FixedLabel) Name() string { return PolicyFixed }

// ArgMaxLabel picks the highest scoring class, or UnknownLabel when that
// score is below MinConfidence.
type ArgMaxLabel struct {
	MinConfidence float32
}

func (p ArgMaxLabel) Label(scores []float32, classes []string) string {
	idx, val := ArgMax(scores)
	if idx < 0 || idx >= len(classes) || val < p.MinConfidence {
		return UnknownLabel
	}
	return classes[idx]
}

func (ArgMaxLabel) Name() string { return PolicyArgMax }

// NewPolicy builds a label policy from configuration values.
func NewPolicy(name, fixedLabel string, minConfidence float64) (LabelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyFixed:
		return FixedLabel{Value: strings.TrimSpace(fixedLabel)}, nil
	case PolicyArgMax:
		if minConfidence < 0 || minConfidence > 1 {
			return nil, eris.Errorf("label policy: min confidence %v outside [0,1]", minConfidence)
		}
		return ArgMaxLabel{MinConfidence: float32(minConfidence)}, nil
	}
	return nil, eris.Errorf("label policy: unsupported value %q", name)
}
