package detector

import (
	"fmt"

	"github.com/xaionaro-go/avblur/types"
)

type task int

const (
	taskUndefined = task(iota)
	taskCreate
	taskDetect
	taskLoaded
	taskDestroy
)

func (t task) String() string {
	switch t {
	case taskCreate:
		return "create"
	case taskDetect:
		return "detect"
	case taskLoaded:
		return "loaded"
	case taskDestroy:
		return "destroy"
	}
	return fmt.Sprintf("unknown_%d", int(t))
}

type createArgs struct {
	Weights []byte
}

// request is handled by the worker; exactly one response is sent to Response.
type request struct {
	Task     task
	Image    types.ImageHandle
	Create   *createArgs
	Response chan response
}

type response struct {
	Result Result
	Err    error
}

func newRequest(t task) *request {
	return &request{
		Task:     t,
		Response: make(chan response, 1),
	}
}

// Result of a detection: the boxes and the image buffer handed back.
type Result struct {
	Boxes []types.Box
	Image types.ImageHandle
}
