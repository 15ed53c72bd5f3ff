package model

import (
	"sync"

	"github.com/rotisserie/eris"
	ort "github.com/yalue/onnxruntime_go"
)

// Session runs one forward pass over a flat input buffer.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Loader opens a session for the described artifact.
type Loader interface {
	Load(meta Metadata) (Session, error)
}

// ORTLoader loads ONNX artifacts through onnxruntime.
type ORTLoader struct {
	ModelPath   string
	LibraryPath string
}

var envMu sync.Mutex

// Load initializes the onnxruntime environment on first use and binds a
// session to pre-allocated input and output tensors.
func (l ORTLoader) Load(meta Metadata) (Session, error) {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		if l.LibraryPath != "" {
			ort.SetSharedLibraryPath(l.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, eris.Wrap(err, "initialize ONNX environment")
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, eris.Wrap(err, "create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, eris.Wrap(err, "create output tensor")
	}

	session, err := ort.NewAdvancedSession(l.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, eris.Wrapf(err, "create ONNX session for %s", l.ModelPath)
	}

	return &ortSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// ortSession reuses its bound tensors on every call, so callers must not run
// it concurrently.
type ortSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *ortSession) Run(input []float32) ([]float32, error) {
	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, eris.Wrap(err, "inference failed")
	}

	outputData := s.outputTensor.GetData()
	out := make([]float32, len(outputData))
	copy(out, outputData)
	return out, nil
}

func (s *ortSession) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
