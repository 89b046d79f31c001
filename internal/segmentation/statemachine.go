// Package segmentation implements the per-connection SegmentationStateMachine
// described in §4.6 (C6), grounded directly on the original's
// AudioStreamStateMachine (original_source/src/lite_rtstt/stt/rtstt_client.py).
package segmentation

import (
	"context"
	"fmt"

	"github.com/kestrelstt/rtstt/internal/audio"
	"github.com/kestrelstt/rtstt/internal/future"
)

// State is one of the three segmentation states from §4.6.
type State int

const (
	Silence State = iota
	Active
	Speaking
)

func (s State) String() string {
	switch s {
	case Silence:
		return "SILENCE"
	case Active:
		return "ACTIVE"
	case Speaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// FastVAD is the subset of vad.FastVAD the state machine depends on,
// narrowed to an interface for testability.
type FastVAD interface {
	IsSpeech(chunk []byte) (bool, error)
}

// NeuralVAD is the subset of vad.Pool the state machine depends on.
type NeuralVAD interface {
	AwaitActive(ctx context.Context, audioSamples []float32) (bool, error)
}

// Transcriber is the subset of transcribe.Pool the state machine depends on.
type Transcriber interface {
	Transcribe(audioSamples []float32) (*future.Future[string], error)
}

// Params are the derived chunk-count budgets computed from STTConfig by the
// owning façade (§4.6/§6): DurationTimeMs/ChunkSizeMs -> MaxSilenceChunks,
// ActiveToDetectionMs/ChunkSizeMs -> MinActiveToDetectionChunks.
type Params struct {
	MaxSilenceChunks           int
	MinActiveToDetectionChunks int
	MaxBufferedChunks          int
}

// StateMachine tracks one connection's stream through SILENCE/ACTIVE/SPEAKING,
// per §4.6. It is not safe for concurrent use; a connection's chunks must be
// fed serially.
type StateMachine struct {
	first  FastVAD
	second NeuralVAD
	stt    Transcriber
	params Params

	buffer        *audio.Buffer
	state         State
	silenceChunks int
}

// New constructs a StateMachine in the initial SILENCE state.
func New(first FastVAD, second NeuralVAD, stt Transcriber, params Params) *StateMachine {
	return &StateMachine{
		first:  first,
		second: second,
		stt:    stt,
		params: params,
		buffer: audio.NewBuffer(),
		state:  Silence,
	}
}

// State returns the current segmentation state.
func (m *StateMachine) State() State { return m.state }

// Feed appends one PCM chunk and advances the state machine, per §4.6: the
// chunk is always appended to the buffer before the transition rule runs.
// It returns the state before and after the transition, and — only on a
// SPEAKING -> SILENCE transition (utterance boundary) — a future resolving
// to the transcribed text of the just-closed utterance.
func (m *StateMachine) Feed(ctx context.Context, chunk []byte) (old, new State, result *future.Future[string], err error) {
	old = m.state
	m.buffer.Append(chunk)

	switch m.state {
	case Silence:
		err = m.feedFromSilence(chunk)
	case Active:
		err = m.feedFromActive(ctx)
	case Speaking:
		result, err = m.feedFromSpeaking(ctx)
	default:
		err = fmt.Errorf("segmentation: undefined state %v", m.state)
	}

	return old, m.state, result, err
}

func (m *StateMachine) feedFromSilence(chunk []byte) error {
	active, err := m.first.IsSpeech(chunk)
	if err != nil {
		return err
	}
	if active {
		m.state = Active
		return nil
	}
	// §4.6 table: SILENCE + FastVAD=false -> SILENCE, discard buffer. Without
	// this a run of silent chunks would grow the buffer unbounded, since Feed
	// always appends before this check runs.
	m.buffer = audio.NewBuffer()
	return nil
}

func (m *StateMachine) feedFromActive(ctx context.Context) error {
	if m.buffer.Chunks() < m.params.MinActiveToDetectionChunks {
		return nil
	}
	speaking, err := m.second.AwaitActive(ctx, m.buffer.Float32())
	if err != nil {
		return err
	}
	if speaking {
		m.state = Speaking
	} else {
		m.state = Silence
		m.buffer = audio.NewBuffer() // full discard, per §4.6/§9
	}
	return nil
}

func (m *StateMachine) feedFromSpeaking(ctx context.Context) (*future.Future[string], error) {
	speaking, err := m.second.AwaitActive(ctx, m.buffer.Float32())
	if err != nil {
		return nil, err
	}

	if !speaking {
		m.silenceChunks++
		if m.silenceChunks >= m.params.MaxSilenceChunks {
			return m.closeUtterance()
		}
		return nil, nil
	}

	m.silenceChunks = 0
	if m.buffer.Chunks() >= m.params.MaxBufferedChunks {
		return m.closeUtterance()
	}
	return nil, nil
}

// closeUtterance flushes the accumulated buffer to the transcriber, resets
// to SILENCE, and returns the resulting future, shared by both the
// max-silence and max-buffered-chunks cutoffs (§4.6).
func (m *StateMachine) closeUtterance() (*future.Future[string], error) {
	finished := m.buffer
	m.buffer = audio.NewBuffer()
	m.state = Silence
	m.silenceChunks = 0
	return m.stt.Transcribe(finished.Float32())
}
