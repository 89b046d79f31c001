package vad

import (
	"context"
	"sync"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
	"github.com/kestrelstt/rtstt/internal/future"
	"github.com/kestrelstt/rtstt/internal/logger"
)

// Model is the black-box neural voice-activity classifier a NeuralVADPool
// worker loads once and reuses for every job it processes. Implementations
// are never shared between workers (§5 "Model objects: one per worker
// thread"). Active reports true iff the window contains at least one speech
// timestamp span, per §4.3.
type Model interface {
	// Active classifies a float32 PCM window at 16kHz.
	Active(audio []float32) (bool, error)
	// Close releases model resources, if any.
	Close() error
}

// ModelFactory constructs one Model instance per pool worker. Grounded on
// the teacher's per-thread whisper.Model pattern and the original Python
// SileroClient, which loads its own `silero_vad` model inside each worker
// goroutine/thread rather than sharing one across threads.
type ModelFactory func() (Model, error)

// job is a scheduled neural-VAD work item (§3 "Work item (neural VAD)").
type job struct {
	audio  []float32
	result *future.Future[bool]
}

// Pool is a fixed-size pool of worker goroutines, each owning one Model
// instance, implementing §4.3's NeuralVADPool (C3).
type Pool struct {
	factory ModelFactory
	size    int
	log     *logger.ContextLogger

	input chan job

	startOnce sync.Once
	closeOnce sync.Once
	ready     sync.WaitGroup
	wg        sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewPool constructs a NeuralVADPool with the given worker count and model
// factory. The pool must be started with Start before use.
func NewPool(size int, factory ModelFactory, log *logger.ContextLogger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		factory: factory,
		size:    size,
		log:     log.WithFields(nil),
		input:   make(chan job, 1), // MPSC input queue holding one pending job; IsActive blocks while it is full
	}
}

// Start launches every worker and blocks until all of them have loaded their
// model, i.e. until the pool is "ready" per §4.3. Start is idempotent.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.ready.Add(p.size)
		p.wg.Add(p.size)
		for i := 0; i < p.size; i++ {
			go p.worker()
		}
		p.ready.Wait()
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		p.log.Info("neural VAD pool ready with %d workers", p.size)
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	model, err := p.factory()
	if err != nil {
		p.log.Error("failed to load neural VAD model: %v", err)
		// Still signal readiness: a permanently failing worker must not
		// hang Start forever. Every job it ever sees resolves with err.
		p.ready.Done()
		for j := range p.input {
			if j.result != nil {
				j.result.Resolve(false, err)
			}
		}
		return
	}
	defer model.Close()
	p.ready.Done()

	for j := range p.input {
		active, err := model.Active(j.audio)
		j.result.Resolve(active, err)
	}
}

// IsActive submits a float32 audio window for neural classification and
// returns a future resolving to whether the model judged it active (§4.3).
// It returns ErrNotStarted before Start, or ErrClosed after Close.
func (p *Pool) IsActive(audio []float32) (*future.Future[bool], error) {
	p.mu.RLock()
	started, closed := p.started, p.closed
	p.mu.RUnlock()

	if closed {
		return nil, rtsttErrors.ErrClosed
	}
	if !started {
		return nil, rtsttErrors.ErrNotStarted
	}

	f := future.New[bool]()
	p.input <- job{audio: audio, result: f}
	return f, nil
}

// Close idempotently shuts the pool down. Pending work already enqueued is
// drained by the running workers before they exit; every future handed out
// by IsActive is guaranteed to resolve. Close blocks until all workers have
// exited.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.input)
		p.wg.Wait()
		p.log.Info("neural VAD pool closed")
	})
}

// AwaitActive is a convenience that submits and blocks for the result using
// the given context, mirroring how SegmentationStateMachine consumes the
// pool inline within its own feed call.
func (p *Pool) AwaitActive(ctx context.Context, audio []float32) (bool, error) {
	f, err := p.IsActive(audio)
	if err != nil {
		return false, err
	}
	return f.Await(ctx)
}
