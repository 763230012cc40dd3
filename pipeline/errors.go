package pipeline

import (
	"fmt"

	"github.com/xaionaro-go/typing"
)

type Stage int

const (
	StageUndefined = Stage(iota)
	StageMetadata
	StageDecode
	StageDetect
	StageBlur
	StageEncode
	StageFlush
	StageRender
)

func (s Stage) String() string {
	switch s {
	case StageUndefined:
		return "undefined"
	case StageMetadata:
		return "metadata"
	case StageDecode:
		return "decode"
	case StageDetect:
		return "detect"
	case StageBlur:
		return "blur"
	case StageEncode:
		return "encode"
	case StageFlush:
		return "flush"
	case StageRender:
		return "render"
	}
	return fmt.Sprintf("unknown_stage_%d", int(s))
}

// ErrStage is the failure of a run, with the stage and (if applicable) the
// frame it happened on.
type ErrStage struct {
	Stage      Stage
	FrameIndex typing.Optional[int]
	Err        error
}

func (e ErrStage) Error() string {
	if e.FrameIndex.IsSet() {
		return fmt.Sprintf("%s failed on frame %d: %v", e.Stage, e.FrameIndex.Get(), e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e ErrStage) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, frameIndex int, err error) error {
	return ErrStage{Stage: stage, FrameIndex: typing.Opt(frameIndex), Err: err}
}
