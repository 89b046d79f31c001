package rtstt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
	"github.com/kestrelstt/rtstt/internal/events"
	"github.com/kestrelstt/rtstt/internal/future"
	"github.com/kestrelstt/rtstt/internal/logger"
)

type stubFastVAD struct{ active bool }

func (s stubFastVAD) IsSpeech(chunk []byte) (bool, error) { return s.active, nil }

type stubNeuralVAD struct {
	mu     sync.Mutex
	active bool
}

func (s *stubNeuralVAD) set(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *stubNeuralVAD) AwaitActive(ctx context.Context, audio []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(audio []float32) (*future.Future[string], error) {
	f := future.New[string]()
	f.Resolve(s.text, nil)
	return f, nil
}

type failingTranscriber struct{ err error }

func (s failingTranscriber) Transcribe(audio []float32) (*future.Future[string], error) {
	f := future.New[string]()
	f.Resolve("", s.err)
	return f, nil
}

func testClient(t *testing.T) (*Client, *stubNeuralVAD) {
	t.Helper()
	second := &stubNeuralVAD{active: true}
	c := New(
		stubFastVAD{active: true}, nil,
		second, VoidLifecycle{StartFunc: func() {}, CloseFunc: func() {}},
		stubTranscriber{text: "hi"}, VoidLifecycle{StartFunc: func() {}, CloseFunc: func() {}},
		STTConfig{DurationTimeMs: 60, ActiveToDetectionMs: 30, ChunkSizeMs: 30, MaxBufferedChunks: 100},
		logger.New(false).With("test"),
	)
	return c, second
}

func TestClientConnectBeforeStartFails(t *testing.T) {
	c, _ := testClient(t)
	_, _, err := c.Connect()
	if !errors.Is(err, rtsttErrors.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestClientStartIsIdempotent(t *testing.T) {
	c, _ := testClient(t)
	if err := c.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("expected idempotent Start, got %v", err)
	}
	c.Close()
}

func TestClientConnectionIDsAreMonotonicAndNotReused(t *testing.T) {
	c, _ := testClient(t)
	c.Start()
	defer c.Close()

	_, id1, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, id2, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", id1, id2)
	}

	if err := c.Disconnect(id1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, id3, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 == id1 {
		t.Fatalf("expected disconnected id %d to never be reused, got %d", id1, id3)
	}
}

func TestClientDisconnectUnknownConnection(t *testing.T) {
	c, _ := testClient(t)
	c.Start()
	defer c.Close()

	if err := c.Disconnect(999); !errors.Is(err, rtsttErrors.ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestClientFeedUnknownConnection(t *testing.T) {
	c, _ := testClient(t)
	c.Start()
	defer c.Close()

	if err := c.Feed(context.Background(), 42, make([]byte, 960)); !errors.Is(err, rtsttErrors.ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestClientFeedEmitsStartAndStopSpeakingAcrossUtterance(t *testing.T) {
	c, second := testClient(t)
	c.Start()
	defer c.Close()

	queue, id, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	chunk := make([]byte, 960)

	// SILENCE -> ACTIVE
	if err := c.Feed(ctx, id, chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ACTIVE -> SPEAKING (second vad active, buffer already past MinActiveToDetectionChunks)
	if err := c.Feed(ctx, id, chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := queue.Get()
	if ev.Kind != events.StartSpeaking {
		t.Fatalf("expected StartSpeaking, got %v", ev.Kind)
	}

	second.set(false)
	// SPEAKING -> SILENCE after enough silent chunks (MaxSilenceChunks = 60/30 = 2)
	c.Feed(ctx, id, chunk)
	if err := c.Feed(ctx, id, chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stop := queue.Get()
	if stop.Kind != events.StopSpeaking {
		t.Fatalf("expected StopSpeaking, got %v", stop.Kind)
	}
	text := queue.Get()
	if text.Text != "hi" {
		t.Fatalf("expected transcribed text %q, got %q", "hi", text.Text)
	}
}

func TestClientFeedEmitsEmptyTextOnTranscriptionError(t *testing.T) {
	second := &stubNeuralVAD{active: true}
	c := New(
		stubFastVAD{active: true}, nil,
		second, VoidLifecycle{StartFunc: func() {}, CloseFunc: func() {}},
		failingTranscriber{err: errors.New("backend unavailable")}, VoidLifecycle{StartFunc: func() {}, CloseFunc: func() {}},
		STTConfig{DurationTimeMs: 60, ActiveToDetectionMs: 30, ChunkSizeMs: 30, MaxBufferedChunks: 100},
		logger.New(false).With("test"),
	)
	if err := c.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	queue, id, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	chunk := make([]byte, 960)

	c.Feed(ctx, id, chunk) // SILENCE -> ACTIVE
	if err := c.Feed(ctx, id, chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	queue.Get() // StartSpeaking

	second.set(false)
	c.Feed(ctx, id, chunk)
	if err := c.Feed(ctx, id, chunk); err != nil {
		t.Fatalf("expected Feed to swallow the transcription error, got %v", err)
	}

	stop := queue.Get()
	if stop.Kind != events.StopSpeaking {
		t.Fatalf("expected StopSpeaking, got %v", stop.Kind)
	}
	text := queue.Get()
	if text.Kind != events.Text || text.Text != "" {
		t.Fatalf("expected an empty Text event on transcription error, got %+v", text)
	}
}

func TestClientCloseClosesRemainingQueues(t *testing.T) {
	c, _ := testClient(t)
	c.Start()

	queue, _, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected idempotent Close, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		for !queue.Get().IsEnd() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected queue to reach end-of-stream after Close")
	}
}
