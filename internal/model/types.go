package model

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

const (
	defaultInputName  = "input"
	defaultOutputName = "output"
)

// Metadata describes the bundled classifier artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// RawScores is the unprocessed classifier output.
type RawScores struct {
	Shape []int64
	Data  []float32
}

// ReadMetadata parses the metadata file that ships next to the model.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, eris.Wrap(err, "read metadata")
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, eris.Wrap(err, "parse metadata")
	}
	if meta.InputName == "" {
		meta.InputName = defaultInputName
	}
	if meta.OutputName == "" {
		meta.OutputName = defaultOutputName
	}
	return meta, meta.Validate()
}

// Validate checks the artifact against the canonical input contract.
func (m Metadata) Validate() error {
	if !tensor.SameShape(m.InputShape, tensor.CanonicalShape) {
		return eris.Errorf("metadata input shape %v, want %v", m.InputShape, tensor.CanonicalShape)
	}
	if m.ImageSize != 0 && (m.ImageSize != tensor.Width || m.ImageSize != tensor.Height) {
		return eris.Errorf("metadata image size %d, want %d", m.ImageSize, tensor.Width)
	}
	if len(m.OutputShape) == 0 || m.OutputShape[0] != tensor.Batch {
		return eris.Errorf("metadata output shape %v must lead with batch %d", m.OutputShape, tensor.Batch)
	}
	if tensor.Elements(m.OutputShape) <= 0 {
		return eris.Errorf("metadata output shape %v is empty", m.OutputShape)
	}
	if n := len(m.Classes); n > 0 && int64(n) != tensor.Elements(m.OutputShape)/tensor.Batch {
		return eris.Errorf("metadata lists %d classes for output shape %v", n, m.OutputShape)
	}
	return nil
}
