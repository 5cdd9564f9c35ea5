package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/model"
	"github.com/samcharles93/nexttoken/internal/observability"
	"github.com/samcharles93/nexttoken/internal/tokenizer"
)

// State is the lifecycle of a model handle.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Bundle is a loaded model together with its tokenizer.
type Bundle struct {
	Name      string
	Device    string
	Model     model.Model
	Tokenizer tokenizer.Tokenizer
}

// LoadFunc produces a Bundle. It runs once per Handle.
type LoadFunc func(ctx context.Context) (*Bundle, error)

// Handle owns a lazily loaded model. Requests arriving before the load
// finishes are refused with ErrModelUnavailable rather than queued. Forward
// passes are serialized because the model keeps per-sequence state.
type Handle struct {
	state  atomic.Int32
	bundle *Bundle
	err    error
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
}

// NewHandle returns a handle in the loading state.
func NewHandle() *Handle {
	h := &Handle{done: make(chan struct{})}
	h.state.Store(int32(StateLoading))
	return h
}

// Loaded returns a handle that is already ready to serve b.
func Loaded(b *Bundle) *Handle {
	h := NewHandle()
	h.finish(b, nil)
	return h
}

// Start runs load on a new goroutine. Only the first call has any effect.
func (h *Handle) Start(ctx context.Context, load LoadFunc) {
	h.once.Do(func() {
		go h.run(ctx, load)
	})
}

// Load runs load on the calling goroutine. Only the first call of Load or
// Start has any effect.
func (h *Handle) Load(ctx context.Context, load LoadFunc) error {
	h.once.Do(func() {
		h.run(ctx, load)
	})
	return h.Wait(ctx)
}

func (h *Handle) run(ctx context.Context, load LoadFunc) {
	log := logger.FromContext(ctx)
	start := time.Now()
	b, err := safeLoad(ctx, load)
	if err == nil && b == nil {
		err = fmt.Errorf("loader returned no model")
	}
	if err != nil {
		log.Error("model load failed", "error", err)
		h.finish(nil, err)
		return
	}
	log.Info("model loaded", "model", b.Name, "device", b.Device, "vocab", b.Tokenizer.VocabSize(), "elapsed", time.Since(start))
	h.finish(b, nil)
}

func safeLoad(ctx context.Context, load LoadFunc) (b *Bundle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in model load: %v", rec)
		}
	}()
	return load(ctx)
}

func (h *Handle) finish(b *Bundle, err error) {
	h.bundle = b
	h.err = err
	if err != nil {
		h.state.Store(int32(StateFailed))
		observability.ModelReady.Set(0)
	} else {
		h.state.Store(int32(StateReady))
		observability.ModelReady.Set(1)
	}
	close(h.done)
}

// State reports the current lifecycle state without blocking.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Err returns the load error once the handle has failed.
func (h *Handle) Err() error {
	if h.State() != StateFailed {
		return nil
	}
	return h.err
}

// Name returns the loaded model name, or "" before the handle is ready.
func (h *Handle) Name() string {
	if h.State() != StateReady {
		return ""
	}
	return h.bundle.Name
}

// Wait blocks until loading finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// with runs fn against the loaded bundle while holding the forward lock.
func (h *Handle) with(fn func(b *Bundle) error) error {
	switch h.State() {
	case StateReady:
	case StateFailed:
		return distribution.ModelUnavailable(fmt.Sprintf("model failed to load: %v", h.err))
	default:
		return distribution.ModelUnavailable("Model is still loading. Please wait.")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.bundle)
}
