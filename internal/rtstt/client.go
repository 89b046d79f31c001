// Package rtstt implements the RTSTTClient façade described in §4.7 (C7),
// grounded on the original's ThreeLayerRTSTTClient
// (original_source/src/lite_rtstt/stt/rtstt_client.py): one first-stage
// FastVAD, one NeuralVADPool, one TranscriberPool, shared across any number
// of independent connections.
package rtstt

import (
	"context"
	"sync"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
	"github.com/kestrelstt/rtstt/internal/events"
	"github.com/kestrelstt/rtstt/internal/logger"
	"github.com/kestrelstt/rtstt/internal/segmentation"
)

// STTConfig carries the tunables §6 defines, the same fields the original's
// frozen STTConfig dataclass holds.
type STTConfig struct {
	DurationTimeMs      int
	ActiveToDetectionMs int
	ChunkSizeMs         int
	MaxBufferedChunks   int
}

// deriveParams converts millisecond budgets into chunk counts, exactly as
// ThreeLayerRTSTTClient.__init__ does: int(duration_time_ms / chunk_size_ms)
// and int(active_to_detection_ms / chunk_size_ms).
func deriveParams(cfg STTConfig) segmentation.Params {
	return segmentation.Params{
		MaxSilenceChunks:           cfg.DurationTimeMs / cfg.ChunkSizeMs,
		MinActiveToDetectionChunks: cfg.ActiveToDetectionMs / cfg.ChunkSizeMs,
		MaxBufferedChunks:          cfg.MaxBufferedChunks,
	}
}

// Lifecycle groups the three pools/gates a Client drives through their own
// Start/Close, mirroring the original's first_vad_client/second_vad_client/
// stt_client collaborators.
type Lifecycle interface {
	Start() error
	Close() error
}

// noopLifecycle is used for collaborators with no start-up/shutdown work of
// their own, such as the stateless FastVAD gate.
type noopLifecycle struct{}

func (noopLifecycle) Start() error { return nil }
func (noopLifecycle) Close() error { return nil }

// VoidLifecycle adapts a component whose Start/Close take no arguments and
// return nothing — such as *vad.Pool — into the Lifecycle interface.
type VoidLifecycle struct {
	StartFunc func()
	CloseFunc func()
}

func (v VoidLifecycle) Start() error { v.StartFunc(); return nil }
func (v VoidLifecycle) Close() error { v.CloseFunc(); return nil }

// connection bundles one connection's state machine and event queue.
type connection struct {
	machine *segmentation.StateMachine
	queue   *events.Queue
}

// Client is the RTSTTClient façade (C7): a connection registry mapping
// monotonically increasing, non-reusable connection ids to independent
// SegmentationStateMachine + EventQueue pairs, all driven by one shared
// FastVAD/NeuralVADPool/TranscriberPool triple.
//
// Per-connection state is never shared, but Start/Close touch the shared
// pools; callers must serialize their own Feed calls per connection id
// (§4.7 concurrency model: the façade does not serialize a single
// connection's chunks for the caller).
type Client struct {
	params STTConfig
	log    *logger.ContextLogger

	first  segmentation.FastVAD
	second segmentation.NeuralVAD
	stt    segmentation.Transcriber

	firstLifecycle  Lifecycle
	secondLifecycle Lifecycle
	sttLifecycle    Lifecycle

	mu          sync.Mutex
	connections map[int]*connection
	nextID      int
	started     bool
	closed      bool
}

// New constructs a Client. first/second/stt are the already-constructed
// collaborators (vad.FastVAD wrapped in a no-op lifecycle, *vad.Pool,
// *transcribe.Pool); lifecycles drive their Start/Close.
func New(
	first segmentation.FastVAD, firstLifecycle Lifecycle,
	second segmentation.NeuralVAD, secondLifecycle Lifecycle,
	stt segmentation.Transcriber, sttLifecycle Lifecycle,
	cfg STTConfig, log *logger.ContextLogger,
) *Client {
	if firstLifecycle == nil {
		firstLifecycle = noopLifecycle{}
	}
	return &Client{
		params:          cfg,
		log:             log.WithFields(nil),
		first:           first,
		second:          second,
		stt:             stt,
		firstLifecycle:  firstLifecycle,
		secondLifecycle: secondLifecycle,
		sttLifecycle:    sttLifecycle,
		connections:     make(map[int]*connection),
	}
}

// Start starts the underlying VAD pools and transcriber pool. Idempotent.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.firstLifecycle.Start(); err != nil {
		return err
	}
	if err := c.secondLifecycle.Start(); err != nil {
		return err
	}
	if err := c.sttLifecycle.Start(); err != nil {
		return err
	}
	c.log.Info("rtstt client started")
	return nil
}

// Connect registers a new connection and returns its event queue and id.
// Ids increase monotonically and are never reused within a Client's
// lifetime, per §4.7.
func (c *Client) Connect() (*events.Queue, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, rtsttErrors.ErrClosed
	}
	if !c.started {
		return nil, 0, rtsttErrors.ErrNotStarted
	}

	id := c.nextID
	c.nextID++

	machine := segmentation.New(c.first, c.second, c.stt, deriveParams(c.params))
	queue := events.NewQueue()
	c.connections[id] = &connection{machine: machine, queue: queue}

	return queue, id, nil
}

// Disconnect removes a connection's state. It returns ErrUnknownConnection
// if the id is not registered — the reference decision for an operation
// the original source leaves silent (dict.pop(id, None)); see DESIGN.md.
func (c *Client) Disconnect(connectionID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.connections[connectionID]
	if !ok {
		return rtsttErrors.ErrUnknownConnection
	}
	conn.queue.Close()
	delete(c.connections, connectionID)
	return nil
}

// Feed advances connectionID's state machine with one PCM chunk and, on a
// SPEAKING transition, emits StartSpeaking; on a SILENCE transition out of
// SPEAKING, emits StopSpeaking followed by the awaited Text event, exactly
// as ThreeLayerRTSTTClient.feed does.
func (c *Client) Feed(ctx context.Context, connectionID int, chunk []byte) error {
	c.mu.Lock()
	conn, ok := c.connections[connectionID]
	c.mu.Unlock()
	if !ok {
		return rtsttErrors.ErrUnknownConnection
	}

	c.log.DebugSampled("feed", 50, "connection %d: feeding %d-byte chunk", connectionID, len(chunk))

	old, new, result, err := conn.machine.Feed(ctx, chunk)
	if err != nil {
		return err
	}

	switch {
	case old == segmentation.Active && new == segmentation.Speaking:
		conn.queue.Put(events.Event{Kind: events.StartSpeaking})
	case old == segmentation.Speaking && new == segmentation.Silence:
		conn.queue.Put(events.Event{Kind: events.StopSpeaking})
		text, err := result.Await(ctx)
		if err != nil {
			// §7: a transcription backend failure must not leave the
			// utterance's Start/Stop pair without a matching Text event
			// (Invariant 1), so the reference behavior is an empty Text
			// rather than silently dropping the connection.
			c.log.Error("connection %d: transcription failed: %v", connectionID, err)
			conn.queue.Put(events.Event{Kind: events.Text, Text: ""})
			return nil
		}
		conn.queue.Put(events.Event{Kind: events.Text, Text: text})
	}
	return nil
}

// Close idempotently stops the underlying pools and closes every remaining
// connection's event queue.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.connections
	c.connections = make(map[int]*connection)
	c.mu.Unlock()

	for _, conn := range conns {
		conn.queue.Close()
	}

	if err := c.firstLifecycle.Close(); err != nil {
		return err
	}
	if err := c.secondLifecycle.Close(); err != nil {
		return err
	}
	if err := c.sttLifecycle.Close(); err != nil {
		return err
	}
	c.log.Info("rtstt client closed")
	return nil
}
