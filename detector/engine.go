// engine.go implements the detection engine running inference in its own worker goroutine.

// Package detector runs object detection on frames in an isolated worker.
package detector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/xaionaro-go/avblur/capability"
	"github.com/xaionaro-go/avblur/helpers/closuresignaler"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
)

// Engine owns one worker; all the model state lives in the worker and is
// reached only through requests.
type Engine struct {
	Model             model.Model
	Providers         []string
	UseMultiThreading bool

	config    config
	requestCh chan *request
	closure   *closuresignaler.ClosureSignaler
}

// worker is the state owned by the worker goroutine.
type worker struct {
	*Engine
	session    Session
	provider   string
	initErr    error
	created    bool
	tensorizer *tensorizer
}

// New spawns the worker and starts creating the inference session; use
// Loaded to wait for the result.
func New(
	ctx context.Context,
	m model.Model,
	providers []string,
	useMultiThreading bool,
	weights []byte,
	opts ...Option,
) *Engine {
	e := &Engine{
		Model:             m,
		Providers:         append([]string(nil), providers...),
		UseMultiThreading: useMultiThreading,
		config:            Options(opts).config(),
		requestCh:         make(chan *request, 1),
		closure:           closuresignaler.New(),
	}
	ctx = xcontext.DetachDone(ctx)
	w := &worker{
		Engine:     e,
		tensorizer: newTensorizer(m.Width, m.Height, useMultiThreading),
	}
	observability.Go(ctx, func(ctx context.Context) {
		w.loop(ctx)
	})

	// the buffer is empty, so "create" is always the first request handled
	req := newRequest(taskCreate)
	req.Create = &createArgs{Weights: weights}
	e.requestCh <- req
	return e
}

func (e *Engine) String() string {
	return fmt.Sprintf("Detector(%s)", e.Model.Name)
}

// Loaded blocks until the session creation has finished.
func (e *Engine) Loaded(ctx context.Context) error {
	_, err := e.call(ctx, newRequest(taskLoaded))
	return err
}

// Detect takes ownership of img and returns it back within the result (also
// on errors, unless the engine was aborted meanwhile).
func (e *Engine) Detect(
	ctx context.Context,
	img types.ImageHandle,
) (_ Result, _err error) {
	logger.Tracef(ctx, "Detect")
	defer func() { logger.Tracef(ctx, "/Detect: %v", _err) }()
	if img.IsEmpty() {
		return Result{}, types.ErrMovedOut
	}
	req := newRequest(taskDetect)
	req.Image = img.Move()
	return e.call(ctx, req)
}

// Abort terminates the engine: all subsequent calls fail with
// types.ErrCancelled{reason}; the worker is torn down asynchronously.
func (e *Engine) Abort(ctx context.Context, reason string) {
	if reason == "" {
		reason = "user abort"
	}
	if !e.closure.Close(ctx, types.ErrCancelled{Reason: reason}) {
		return
	}
	logger.Debugf(ctx, "aborted %s: %s", e, reason)
}

// Close releases the inference session and terminates the engine.
func (e *Engine) Close(ctx context.Context) error {
	_, err := e.call(ctx, newRequest(taskDestroy))
	e.Abort(ctx, "closed")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) IsAborted() bool {
	return e.closure.IsClosed()
}

func (e *Engine) call(
	ctx context.Context,
	req *request,
) (Result, error) {
	if err := e.closure.Reason(); err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.closure.CloseChan():
		return Result{}, e.closure.Reason()
	case e.requestCh <- req:
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.closure.CloseChan():
		return Result{}, e.closure.Reason()
	case resp := <-req.Response:
		return resp.Result, resp.Err
	}
}

func (w *worker) loop(ctx context.Context) {
	logger.Debugf(ctx, "detector worker started")
	defer func() { logger.Debugf(ctx, "/detector worker stopped") }()
	defer w.destroy(ctx)
	for {
		select {
		case <-w.closure.CloseChan():
			return
		case req := <-w.requestCh:
			w.handle(ctx, req)
			if req.Task == taskDestroy {
				return
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, req *request) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		reason := fmt.Sprintf("detector worker failed: %v", r)
		logger.Errorf(ctx, "%s\n%s", reason, debug.Stack())
		w.Abort(ctx, reason)
		req.Response <- response{Err: types.ErrCancelled{Reason: reason}}
	}()
	logger.Tracef(ctx, "detector worker received task %s", req.Task)

	var resp response
	switch req.Task {
	case taskCreate:
		resp.Err = w.create(ctx, req.Create.Weights)
	case taskLoaded:
		resp.Err = w.initErr
		if !w.created {
			resp.Err = fmt.Errorf("the session was not created: %w", types.ErrInvalidState)
		}
	case taskDetect:
		resp.Result, resp.Err = w.detect(ctx, req.Image)
	case taskDestroy:
		w.destroy(ctx)
	default:
		resp.Err = fmt.Errorf("unknown task %s", req.Task)
	}
	req.Response <- resp
}

func (w *worker) create(ctx context.Context, weights []byte) error {
	if w.created {
		return fmt.Errorf("the session is already created: %w", types.ErrInvalidState)
	}
	w.created = true

	candidates := make([]capability.Candidate[Session], 0, len(w.Providers))
	for _, provider := range w.Providers {
		candidates = append(candidates, capability.Candidate[Session]{
			Name: provider,
			Open: func(ctx context.Context) (Session, error) {
				session, err := w.config.SessionFactory(ctx, weights, provider, w.UseMultiThreading)
				if err != nil {
					return nil, err
				}
				if err := warmUp(ctx, session, w.Model); err != nil {
					if err := session.Close(); err != nil {
						logger.Warnf(ctx, "unable to close the session on '%s': %v", provider, err)
					}
					return nil, err
				}
				return session, nil
			},
		})
	}
	session, provider, err := capability.FirstSupported(ctx, candidates...)
	if err != nil {
		w.initErr = types.ErrModelInitFailed{
			Providers: w.Providers,
			Err:       err,
		}
		if len(w.Providers) == 0 {
			w.initErr = types.ErrModelInitFailed{Err: fmt.Errorf("no execution providers given")}
		}
		logger.Errorf(ctx, "%v", w.initErr)
		return w.initErr
	}
	logger.Infof(ctx, "model %s is loaded on '%s'", w.Model.Name, provider)
	w.session = session
	w.provider = provider
	return nil
}

func (w *worker) detect(
	ctx context.Context,
	img types.ImageHandle,
) (Result, error) {
	result := Result{Image: img}
	switch {
	case !w.created:
		return result, fmt.Errorf("the session was not created: %w", types.ErrInvalidState)
	case w.initErr != nil:
		return result, w.initErr
	}

	tensor, lb := w.tensorizer.Tensor(img.Image())
	out, err := w.session.Run(ctx, tensor)
	if err != nil {
		return result, fmt.Errorf("inference failed on '%s': %w", w.provider, err)
	}
	if err := checkOutput(out); err != nil {
		return result, err
	}
	result.Boxes = NonMaxSuppression(decodeCandidates(out, w.Model, lb), w.Model.ThresholdIoU)
	logger.Tracef(ctx, "detected: %s", boxesString(result.Boxes))
	return result, nil
}

// warmUp runs one inference on a blank input. Some backends accept any
// provider at creation and fail (or produce nothing) only when run.
func warmUp(ctx context.Context, session Session, m model.Model) error {
	out, err := session.Run(ctx, Tensor{
		Data:  make([]float32, 3*m.Width*m.Height),
		Shape: [4]int{1, 3, m.Height, m.Width},
	})
	if err != nil {
		return fmt.Errorf("the warm-up inference failed: %w", err)
	}
	if err := checkOutput(out); err != nil {
		return fmt.Errorf("the warm-up inference: %w", err)
	}
	return nil
}

func checkOutput(out Output) error {
	if out.Size < 6 || len(out.Data) < out.Count*out.Size {
		return fmt.Errorf("unexpected output shape [1, %d, %d] with %d values", out.Count, out.Size, len(out.Data))
	}
	return nil
}

func (w *worker) destroy(ctx context.Context) {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the inference session: %v", err)
	}
	w.session = nil
}

func boxesString(boxes []types.Box) string {
	parts := make([]string, 0, len(boxes))
	for _, b := range boxes {
		parts = append(parts, b.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
