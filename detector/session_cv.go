//go:build with_cv
// +build with_cv

package detector

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/xaionaro-go/avblur/logger"
	"gocv.io/x/gocv"
)

// NewCVSession loads the ONNX model with OpenCV's DNN module.
func NewCVSession(
	ctx context.Context,
	weights []byte,
	provider string,
	useMultiThreading bool,
) (_ret Session, _err error) {
	logger.Debugf(ctx, "NewCVSession(%s)", provider)
	defer func() { logger.Debugf(ctx, "/NewCVSession(%s): %v", provider, _err) }()

	var (
		backend gocv.NetBackendType
		target  gocv.NetTargetType
	)
	switch provider {
	case ProviderCUDA:
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case ProviderCUDAFP16:
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16
	case ProviderOpenVINO:
		backend, target = gocv.NetBackendOpenVINO, gocv.NetTargetCPU
	case ProviderOpenCL:
		backend, target = gocv.NetBackendOpenCV, gocv.NetTargetFP32
	case ProviderCPU:
		backend, target = gocv.NetBackendOpenCV, gocv.NetTargetCPU
	default:
		return nil, ErrUnknownProvider{Provider: provider}
	}

	net, err := gocv.ReadNetFromONNXBytes(weights)
	if err != nil {
		return nil, fmt.Errorf("unable to read the model: %w", err)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("the model is empty")
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("unable to set the backend: %w", err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("unable to set the target: %w", err)
	}
	if useMultiThreading {
		gocv.SetNumThreads(runtime.NumCPU())
	} else {
		gocv.SetNumThreads(1)
	}
	return &cvSession{net: net}, nil
}

type cvSession struct {
	net gocv.Net
}

func (s *cvSession) Run(
	ctx context.Context,
	input Tensor,
) (_ Output, _err error) {
	logger.Tracef(ctx, "Run")
	defer func() { logger.Tracef(ctx, "/Run: %v", _err) }()

	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(input.Data))), len(input.Data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(input.Shape[:], gocv.MatTypeCV32F, raw)
	if err != nil {
		return Output{}, fmt.Errorf("unable to create the input blob: %w", err)
	}
	defer blob.Close()

	s.net.SetInput(blob, InputName)
	out := s.net.Forward(OutputName)
	defer out.Close()
	if out.Empty() {
		return Output{}, fmt.Errorf("the model produced no output")
	}
	dims := out.Size()
	if len(dims) != 3 {
		return Output{}, fmt.Errorf("unexpected output dimensions %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return Output{}, fmt.Errorf("unable to read the output: %w", err)
	}
	return Output{
		Data:  append([]float32(nil), data...),
		Count: dims[1],
		Size:  dims[2],
	}, nil
}

func (s *cvSession) Close() error {
	return s.net.Close()
}

var defaultSessionFactory SessionFactory = NewCVSession
