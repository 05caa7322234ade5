// Package gateway owns the lifecycle of the NER model: it loads the model at
// most once at a time, caches the ready handle and remembers failures until
// the next attempt.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/errs"
	"github.com/raaihank/persondata/internal/ner"
)

// DefaultLoadTimeout bounds a single model load and every caller's wait.
const DefaultLoadTimeout = 30 * time.Second

// State of the model lifecycle
type State int

const (
	Idle State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats describes the gateway's load history
type Stats struct {
	State             string        `json:"state"`
	ModelID           string        `json:"model_id"`
	LoadsStarted      int64         `json:"loads_started"`
	LoadsSucceeded    int64         `json:"loads_succeeded"`
	LoadFailures      int64         `json:"load_failures"`
	LoadTimeouts      int64         `json:"load_timeouts"`
	WaitTimeouts      int64         `json:"wait_timeouts"`
	LateHandlesClosed int64         `json:"late_handles_closed"`
	LastLoadDuration  time.Duration `json:"last_load_duration"`
	LastError         string        `json:"last_error,omitempty"`
	ReadySince        time.Time     `json:"ready_since,omitempty"`
}

// Gateway hands out the loaded recognizer. The zero value is not usable; use New.
type Gateway struct {
	loader  ner.Loader
	modelID string
	opts    ner.LoadOptions
	timeout time.Duration
	logger  *zap.Logger

	group singleflight.Group

	mu         sync.Mutex
	state      State
	handle     ner.Recognizer
	lastErr    error
	flight     uint64
	cancelLoad context.CancelFunc
	stats      Stats
}

// New creates a gateway in the Idle state. Nothing is loaded until the first
// Acquire.
func New(loader ner.Loader, cfg config.ModelConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	g := &Gateway{
		loader:  loader,
		modelID: cfg.ModelID,
		timeout: timeout,
		logger:  logger,
	}
	g.opts = ner.LoadOptions{
		Quantized: cfg.Quantized,
		Progress: func(p ner.Progress) {
			g.logger.Debug("Model load progress",
				zap.String("status", p.Status),
				zap.String("file", p.File),
				zap.Float64("progress", p.Ratio),
			)
		},
	}
	return g
}

// Acquire returns the ready recognizer, loading it if necessary.
//
// A Ready gateway answers immediately. An Idle or Failed gateway starts a load.
// A Loading gateway makes the caller wait for the load already in flight. Each
// caller waits at most the load timeout measured from its own entry, and
// cancelling ctx ends only that caller's wait.
func (g *Gateway) Acquire(ctx context.Context) (ner.Recognizer, error) {
	wait := time.NewTimer(g.timeout)
	defer wait.Stop()

	g.mu.Lock()
	if g.state == Ready {
		h := g.handle
		g.mu.Unlock()
		return h, nil
	}
	if g.state != Loading {
		g.state = Loading
		g.flight++
		g.stats.LoadsStarted++
		g.logger.Info("Loading NER model",
			zap.String("model", g.modelID),
			zap.Duration("timeout", g.timeout),
		)
	}
	// Every load attempt has its own key, and callers join it under the lock
	// that guards the state, so a caller never joins a finished attempt and
	// never starts a second one.
	flight := g.flight
	ch := g.group.DoChan(strconv.FormatUint(flight, 10), func() (interface{}, error) {
		return g.load(flight)
	})
	g.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ner.Recognizer), nil
	case <-wait.C:
		g.countWaitTimeout()
		return nil, fmt.Errorf("%w: model not ready after %s", errs.ErrModelLoadTimeout, g.timeout)
	case <-ctx.Done():
		g.countWaitTimeout()
		return nil, fmt.Errorf("%w: %w", errs.ErrModelLoadTimeout, ctx.Err())
	}
}

type loadResult struct {
	handle ner.Recognizer
	err    error
}

// load runs one load raced against the timeout and publishes the outcome.
func (g *Gateway) load(flight uint64) (interface{}, error) {
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	if flight != g.flight {
		g.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: gateway closed during load", errs.ErrModelLoadFailure)
	}
	g.cancelLoad = cancel
	g.mu.Unlock()

	start := time.Now()
	done := make(chan loadResult, 1)
	go func() {
		h, err := g.loader.Load(ctx, g.modelID, g.opts)
		done <- loadResult{h, err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		cancel()
		if r.err != nil {
			return g.finish(flight, nil, fmt.Errorf("%w: %v", errs.ErrModelLoadFailure, r.err), start)
		}
		if r.handle == nil {
			return g.finish(flight, nil, fmt.Errorf("%w: loader returned no recognizer", errs.ErrModelLoadFailure), start)
		}
		return g.finish(flight, r.handle, nil, start)

	case <-timer.C:
		cancel()
		go g.closeLate(done)
		return g.finish(flight, nil, fmt.Errorf("%w: model not ready after %s", errs.ErrModelLoadTimeout, g.timeout), start)
	}
}

// finish records the outcome of a load attempt. The result of an attempt
// that Close abandoned is discarded.
func (g *Gateway) finish(flight uint64, h ner.Recognizer, err error, start time.Time) (interface{}, error) {
	elapsed := time.Since(start)

	g.mu.Lock()
	if flight != g.flight {
		g.mu.Unlock()
		if h != nil {
			closeHandle(h, g.logger)
		}
		return nil, fmt.Errorf("%w: gateway closed during load", errs.ErrModelLoadFailure)
	}

	g.cancelLoad = nil
	g.stats.LastLoadDuration = elapsed
	if err != nil {
		g.state = Failed
		g.lastErr = err
		g.stats.LastError = err.Error()
		if errors.Is(err, errs.ErrModelLoadTimeout) {
			g.stats.LoadTimeouts++
		} else {
			g.stats.LoadFailures++
		}
		g.mu.Unlock()

		g.logger.Warn("NER model load failed",
			zap.String("model", g.modelID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	g.state = Ready
	g.handle = h
	g.lastErr = nil
	g.stats.LoadsSucceeded++
	g.stats.LastError = ""
	g.stats.ReadySince = time.Now()
	g.mu.Unlock()

	g.logger.Info("NER model ready",
		zap.String("model", g.modelID),
		zap.Duration("load_time", elapsed),
	)
	return h, nil
}

// closeLate waits for a load that lost the race and releases what it returns.
func (g *Gateway) closeLate(done <-chan loadResult) {
	r := <-done
	if r.handle == nil {
		return
	}
	closeHandle(r.handle, g.logger)

	g.mu.Lock()
	g.stats.LateHandlesClosed++
	g.mu.Unlock()

	g.logger.Info("Closed model handle that arrived after load timeout", zap.String("model", g.modelID))
}

func (g *Gateway) countWaitTimeout() {
	g.mu.Lock()
	g.stats.WaitTimeouts++
	g.mu.Unlock()
}

// Close releases a ready handle, abandons a load in flight and returns the
// gateway to Idle. The next Acquire loads again.
func (g *Gateway) Close() error {
	g.mu.Lock()
	h := g.handle
	if g.cancelLoad != nil {
		g.cancelLoad()
		g.cancelLoad = nil
	}
	g.handle = nil
	g.state = Idle
	g.lastErr = nil
	g.flight++
	g.mu.Unlock()

	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// State returns the current lifecycle state
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastError returns the error of the last failed load, or nil.
func (g *Gateway) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Stats returns a snapshot of the load history
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.State = g.state.String()
	s.ModelID = g.modelID
	return s
}

func closeHandle(h ner.Recognizer, logger *zap.Logger) {
	c, ok := h.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("Failed to close model handle", zap.Error(err))
	}
}
