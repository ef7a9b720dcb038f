package onnx

import (
	"fmt"
	ort "github.com/yalue/onnxruntime_go"
	"sync"
	"text2phenotype.com/seqtag/logger"
)

var onnxLogger = logger.NewLogger("ONNX")

var (
	initOnce sync.Once
	initErr  error
)

// Initialize loads the onnxruntime shared library once per process. An empty
// libraryPath leaves the library lookup to the runtime's default.
func Initialize(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		initErr = ort.InitializeEnvironment()
		if initErr != nil {
			onnxLogger.Err(initErr).Str("library", libraryPath).Msg("Failed to initialize ONNX runtime")
			return
		}
		onnxLogger.Info().Str("library", libraryPath).Msg("ONNX runtime initialized")
	})
	if initErr != nil {
		return fmt.Errorf("initializing ONNX runtime: %w", initErr)
	}
	return nil
}

type session struct {
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	inputs  []string
	outputs []string
}

// openSession creates a session for modelPath. Empty name lists mean all inputs or outputs
// declared by the model, in declaration order.
func openSession(modelPath string, inputs, outputs []string) (*session, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("reading model inputs and outputs: %w", err)
		}
		if len(inputs) == 0 {
			for _, info := range inInfo {
				inputs = append(inputs, info.Name)
			}
		}
		if len(outputs) == 0 {
			for _, info := range outInfo {
				outputs = append(outputs, info.Name)
			}
		}
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}
	return &session{session: s, options: options, inputs: inputs, outputs: outputs}, nil
}

// run feeds values in input order and returns the first output. The caller destroys it.
func (s *session) run(values []ort.Value) (ort.Value, error) {
	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}
	for _, extra := range outputs[1:] {
		if extra != nil {
			extra.Destroy()
		}
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("ONNX session returned no %q output", s.outputs[0])
	}
	return outputs[0], nil
}

func (s *session) close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.options != nil {
		s.options.Destroy()
		s.options = nil
	}
}

func float32Data(value ort.Value) ([]float32, []int64, error) {
	tensor, ok := value.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output tensor is not float32")
	}
	return tensor.GetData(), tensor.GetShape(), nil
}
