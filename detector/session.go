package detector

import (
	"context"
	"fmt"
)

const (
	InputName  = "images"
	OutputName = "output0"
)

// Tensor is a dense float32 tensor in NCHW layout.
type Tensor struct {
	Data  []float32
	Shape [4]int
}

// Output is the raw model output of shape [1, Count, Size]; each row is
// [xCenter, yCenter, width, height, objectness, classScores...].
type Output struct {
	Data  []float32
	Count int
	Size  int
}

func (o Output) Row(idx int) []float32 {
	return o.Data[idx*o.Size : (idx+1)*o.Size]
}

// Session is an inference session of a loaded model.
type Session interface {
	Run(ctx context.Context, input Tensor) (Output, error)
	Close() error
}

// SessionFactory creates a session for the given execution provider; an
// error means the provider is unavailable.
type SessionFactory func(
	ctx context.Context,
	weights []byte,
	provider string,
	useMultiThreading bool,
) (Session, error)

type ErrUnknownProvider struct {
	Provider string
}

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown execution provider '%s'", e.Provider)
}

// Known execution providers, in the order of preference.
const (
	ProviderCUDA     = "cuda"
	ProviderCUDAFP16 = "cuda_fp16"
	ProviderOpenVINO = "openvino"
	ProviderOpenCL   = "opencl"
	ProviderCPU      = "cpu"
)

var DefaultProviders = []string{ProviderCUDA, ProviderOpenCL, ProviderCPU}
