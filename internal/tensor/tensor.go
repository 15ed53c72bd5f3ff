package tensor

import (
	"github.com/akash-ravi/pomegranate-app/internal/faults"
)

// Canonical input geometry accepted by the classifier.
const (
	Batch    = 1
	Height   = 224
	Width    = 224
	Channels = 3
)

// CanonicalShape is the NHWC shape every encoded tensor carries.
var CanonicalShape = []int64{Batch, Height, Width, Channels}

// Canonical is a dense float32 tensor laid out row-major in NHWC order with
// values normalized to [0,1].
type Canonical struct {
	Shape []int64
	Data  []float32
}

// Elements returns the element count implied by shape.
func Elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Validate checks that t has the canonical shape and a matching backing slice.
func (t *Canonical) Validate() error {
	if t == nil {
		return faults.New(faults.KindShapeMismatch, "validate tensor", "tensor is nil")
	}
	if !SameShape(t.Shape, CanonicalShape) {
		return faults.New(faults.KindShapeMismatch, "validate tensor", "shape %v, want %v", t.Shape, CanonicalShape)
	}
	if int64(len(t.Data)) != Elements(CanonicalShape) {
		return faults.New(faults.KindShapeMismatch, "validate tensor", "%d values, want %d", len(t.Data), Elements(CanonicalShape))
	}
	return nil
}

// At returns the value at pixel (y, x) and channel c of the single batch item.
func (t *Canonical) At(y, x, c int) float32 {
	return t.Data[(y*Width+x)*Channels+c]
}
