// Package onnx runs the classifier through ONNX Runtime. Sessions are built
// from in-memory model bytes and pooled so concurrent calls never share
// bound tensors.
package onnx

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/anime-shed/leaf-inspector-go/internal/logger"
)

const channels = 3

// Options describe the model graph and session pool
type Options struct {
	InputName      string
	OutputName     string
	InputSize      int
	PoolSize       int
	AcquireTimeout time.Duration
	SharedLibrary  string
	Threads        int
}

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// Model is an ONNX classifier with input [1, N, N, 3] and output
// [1, classes], both float32.
type Model struct {
	pool      *Pool[*session]
	inputLen  int
	outputLen int
}

var envMu sync.Mutex

// InitEnvironment initializes the process-wide ONNX Runtime environment once
func InitEnvironment(sharedLibrary string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// DestroyEnvironment tears the runtime down at process exit
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// New parses the model graph and fills the session pool. The output length
// is read from the graph, so a label table of the wrong size is caught on
// first inference instead of here.
func New(modelData []byte, opts Options) (*Model, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", opts.InputSize)
	}
	if err := InitEnvironment(opts.SharedLibrary); err != nil {
		return nil, err
	}

	outputLen, err := outputLength(modelData, opts.OutputName)
	if err != nil {
		return nil, err
	}

	create := func() (*session, error) {
		return newSession(modelData, opts, outputLen)
	}
	pool, err := NewPool(opts.PoolSize, opts.AcquireTimeout, create, (*session).destroy)
	if err != nil {
		return nil, err
	}

	logger.WithField("pool_size", pool.Stats().Size).
		WithField("classes", outputLen).
		Debug("ONNX session pool ready")

	return &Model{
		pool:      pool,
		inputLen:  opts.InputSize * opts.InputSize * channels,
		outputLen: int(outputLen),
	}, nil
}

func outputLength(modelData []byte, outputName string) (int64, error) {
	_, outputs, err := ort.GetInputOutputInfoWithONNXData(modelData)
	if err != nil {
		return 0, fmt.Errorf("failed to read model graph: %w", err)
	}

	for _, o := range outputs {
		if o.Name != outputName {
			continue
		}
		n := int64(1)
		for _, d := range o.Dimensions {
			// Dynamic (batch) dimensions are reported as -1
			if d > 0 {
				n *= d
			}
		}
		return n, nil
	}
	return 0, fmt.Errorf("model has no output named %q", outputName)
}

func newSession(modelData []byte, opts Options, outputLen int64) (*session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting thread count: %w", err)
	}

	size := int64(opts.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, channels))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, outputLen))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	s, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &session{session: s, input: inputTensor, output: outputTensor}, nil
}

// Run copies input into a pooled session, runs it and returns a copy of
// the output scores.
func (m *Model) Run(ctx context.Context, input []float32) ([]float32, error) {
	if len(input) != m.inputLen {
		return nil, fmt.Errorf("input has %d values, expected %d", len(input), m.inputLen)
	}

	s, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(s)

	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, m.outputLen)
	copy(scores, s.output.GetData())
	return scores, nil
}

func (m *Model) Stats() PoolStats {
	return m.pool.Stats()
}

func (m *Model) Close() error {
	m.pool.Destroy()
	return nil
}
