package vad

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
	"github.com/kestrelstt/rtstt/internal/logger"
)

type fakeModel struct {
	loaded  *int32
	closed  *int32
	predict func([]float32) bool
}

func (m *fakeModel) Active(audio []float32) (bool, error) {
	return m.predict(audio), nil
}

func (m *fakeModel) Close() error {
	atomic.AddInt32(m.closed, 1)
	return nil
}

func testLogger() *logger.ContextLogger {
	return logger.New(false).With("test")
}

func newFakeFactory(loaded, closed *int32, predict func([]float32) bool) ModelFactory {
	return func() (Model, error) {
		atomic.AddInt32(loaded, 1)
		return &fakeModel{loaded: loaded, closed: closed, predict: predict}, nil
	}
}

func TestPoolStartIsIdempotentAndWaitsForAllWorkers(t *testing.T) {
	var loaded, closed int32
	p := NewPool(4, newFakeFactory(&loaded, &closed, func([]float32) bool { return true }), testLogger())
	p.Start()
	p.Start()

	if got := atomic.LoadInt32(&loaded); got != 4 {
		t.Fatalf("expected 4 workers loaded, got %d", got)
	}
	p.Close()
}

func TestPoolIsActiveResolvesFuture(t *testing.T) {
	var loaded, closed int32
	p := NewPool(2, newFakeFactory(&loaded, &closed, func(audio []float32) bool {
		return len(audio) > 0 && audio[0] > 0.5
	}), testLogger())
	p.Start()
	defer p.Close()

	active, err := p.AwaitActive(context.Background(), []float32{0.9, 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !active {
		t.Fatalf("expected active=true")
	}

	active, err = p.AwaitActive(context.Background(), []float32{0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active {
		t.Fatalf("expected active=false")
	}
}

func TestPoolRejectsBeforeStart(t *testing.T) {
	var loaded, closed int32
	p := NewPool(1, newFakeFactory(&loaded, &closed, func([]float32) bool { return true }), testLogger())
	_, err := p.IsActive([]float32{0.1})
	if !errors.Is(err, rtsttErrors.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	var loaded, closed int32
	p := NewPool(1, newFakeFactory(&loaded, &closed, func([]float32) bool { return true }), testLogger())
	p.Start()
	p.Close()
	p.Close() // idempotent

	_, err := p.IsActive([]float32{0.1})
	if !errors.Is(err, rtsttErrors.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := atomic.LoadInt32(&closed); got != 1 {
		t.Fatalf("expected model closed exactly once, got %d", got)
	}
}

func TestPoolCloseResolvesInFlightFutures(t *testing.T) {
	var loaded, closed int32
	block := make(chan struct{})
	p := NewPool(1, newFakeFactory(&loaded, &closed, func([]float32) bool {
		<-block
		return true
	}), testLogger())
	p.Start()

	f, err := p.IsActive([]float32{0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()

	p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.Await(ctx); err != nil {
		t.Fatalf("expected submitted work to resolve, got %v", err)
	}
}
