package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avblur/detector"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
)

// DetectorHolder keeps at most one live detection engine: loading a model
// cancels the previous load and aborts the previous engine.
type DetectorHolder struct {
	Weights model.ByteSource
	Options []detector.Option

	locker     xsync.Mutex
	engine     *detector.Engine
	cancelLoad context.CancelFunc
	generation uint64
}

func NewDetectorHolder(
	weights model.ByteSource,
	opts ...detector.Option,
) *DetectorHolder {
	return &DetectorHolder{
		Weights: weights,
		Options: opts,
	}
}

// Engine returns the loaded engine or nil.
func (h *DetectorHolder) Engine(ctx context.Context) *detector.Engine {
	return xsync.DoR1(ctx, &h.locker, func() *detector.Engine {
		return h.engine
	})
}

// Load loads the model weights and creates an engine for them, replacing the
// current one. progress (may be nil) receives the weight parts loaded so far.
func (h *DetectorHolder) Load(
	ctx context.Context,
	m model.Model,
	providers []string,
	useMultiThreading bool,
	progress func(done, total int),
) (_ret *detector.Engine, _err error) {
	logger.Debugf(ctx, "Load(%s, %v)", m.Name, providers)
	defer func() { logger.Debugf(ctx, "/Load(%s, %v): %v", m.Name, providers, _err) }()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var generation uint64
	h.locker.Do(ctx, func() {
		if h.cancelLoad != nil {
			logger.Debugf(ctx, "cancelling the previous model load")
			h.cancelLoad()
		}
		if h.engine != nil {
			h.engine.Abort(ctx, "another model is loaded")
			h.engine = nil
		}
		h.generation++
		generation = h.generation
		h.cancelLoad = cancel
	})

	weights, err := model.LoadWeights(loadCtx, h.Weights, m, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil, types.ErrCancelled{Reason: "superseded by another model load"}
		}
		return nil, fmt.Errorf("unable to load the weights of '%s': %w", m.Name, err)
	}

	var engine *detector.Engine
	h.locker.Do(ctx, func() {
		if h.generation != generation {
			return
		}
		h.cancelLoad = nil
		engine = detector.New(ctx, m, providers, useMultiThreading, weights, h.Options...)
		h.engine = engine
	})
	if engine == nil {
		return nil, types.ErrCancelled{Reason: "superseded by another model load"}
	}

	if err := engine.Loaded(ctx); err != nil {
		h.locker.Do(ctx, func() {
			if h.engine == engine {
				h.engine = nil
			}
		})
		engine.Abort(ctx, "initialization failed")
		return nil, err
	}
	return engine, nil
}

// Close releases the current engine, if any.
func (h *DetectorHolder) Close(ctx context.Context) error {
	var engine *detector.Engine
	h.locker.Do(ctx, func() {
		if h.cancelLoad != nil {
			h.cancelLoad()
			h.cancelLoad = nil
		}
		h.generation++
		engine, h.engine = h.engine, nil
	})
	if engine == nil {
		return nil
	}
	return engine.Close(ctx)
}
