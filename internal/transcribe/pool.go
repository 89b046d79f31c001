// Package transcribe implements the TranscriberPool (§4.4, C4): a fixed
// pool of whisper.cpp contexts sharing one loaded model, warmed up before
// becoming ready and fed full utterances via the Event Bridge future.
package transcribe

import (
	"fmt"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
	"github.com/kestrelstt/rtstt/internal/future"
	"github.com/kestrelstt/rtstt/internal/logger"
)

// silencePadSamples prepends roughly 0.5s of silence before inference, per
// §4.4 — whisper.cpp's encoder otherwise clips leading phonemes on very
// short utterances, a quirk the teacher worked around with speedup/beam
// tuning rather than padding; padding is the approach the spec calls for.
const silencePadSamples = 8000 // 0.5s @ 16kHz

// Config configures model loading and context behavior, mirroring the
// teacher's WhisperConfig (server/internal/transcription/whisper.go).
type Config struct {
	ModelPath string
	Language  string
	Threads   uint
	PoolSize  int
	// WarmupAudio is a short (~7s) float32 16kHz reference clip run through
	// every worker's context before the pool reports ready, per §4.4's warm-up
	// contract. Its transcription result is discarded.
	WarmupAudio []float32
}

// job is a scheduled transcription work item (§3 "Work item (ASR)").
type job struct {
	audio  []float32
	result *future.Future[string]
}

// Pool is the ASR worker pool described in §4.4. Workers share one loaded
// whisper.cpp model but each owns its own inference context, following the
// teacher's SharedWhisperModel/WhisperTranscriberShared split.
type Pool struct {
	cfg Config
	log *logger.ContextLogger

	model whisper.Model
	input chan job

	startOnce sync.Once
	closeOnce sync.Once
	ready     sync.WaitGroup
	wg        sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewPool loads the whisper.cpp model and constructs a pool of the
// configured size. The returned pool still requires Start before use.
func NewPool(cfg Config, log *logger.ContextLogger) (*Pool, error) {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: failed to load whisper model: %w", err)
	}
	return &Pool{
		cfg:   cfg,
		log:   log.WithFields(nil),
		model: model,
		input: make(chan job, 1),
	}, nil
}

// Start launches every worker, has each build its own context from the
// shared model, warms it up against cfg.WarmupAudio, and blocks until all
// workers are ready. Start is idempotent.
func (p *Pool) Start() error {
	var startErr error
	p.startOnce.Do(func() {
		p.ready.Add(p.cfg.PoolSize)
		p.wg.Add(p.cfg.PoolSize)
		errs := make(chan error, p.cfg.PoolSize)
		for i := 0; i < p.cfg.PoolSize; i++ {
			go p.worker(errs)
		}
		p.ready.Wait()
		close(errs)
		for e := range errs {
			if e != nil && startErr == nil {
				startErr = e
			}
		}
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		if startErr == nil {
			p.log.Info("transcriber pool ready with %d workers", p.cfg.PoolSize)
		}
	})
	return startErr
}

func (p *Pool) worker(readyErrs chan<- error) {
	defer p.wg.Done()

	ctx, err := p.newContext()
	if err != nil {
		readyErrs <- err
		p.ready.Done()
		for j := range p.input {
			j.result.Resolve("", err)
		}
		return
	}

	if len(p.cfg.WarmupAudio) > 0 {
		if _, err := transcribeOnce(ctx, p.cfg.WarmupAudio); err != nil {
			p.log.Warn("warm-up transcription failed: %v", err)
		}
	}
	readyErrs <- nil
	p.ready.Done()

	for j := range p.input {
		text, err := transcribeOnce(ctx, padWithSilence(j.audio))
		j.result.Resolve(text, err)
	}
}

func (p *Pool) newContext() (whisper.Context, error) {
	ctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transcribe: failed to create context: %w", err)
	}
	if p.cfg.Language != "" {
		ctx.SetLanguage(p.cfg.Language)
	} else {
		ctx.SetLanguage("auto")
	}
	if p.cfg.Threads > 0 {
		ctx.SetThreads(p.cfg.Threads)
	}
	ctx.SetTranslate(false)
	ctx.SetTokenTimestamps(true)
	return ctx, nil
}

// padWithSilence prepends silencePadSamples of zero-valued float32 samples.
func padWithSilence(audio []float32) []float32 {
	padded := make([]float32, 0, silencePadSamples+len(audio))
	padded = append(padded, make([]float32, silencePadSamples)...)
	padded = append(padded, audio...)
	return padded
}

// transcribeOnce runs one synchronous whisper.cpp pass and concatenates
// segment text, the same segment-callback approach the teacher uses.
func transcribeOnce(ctx whisper.Context, audio []float32) (string, error) {
	var segments []string
	err := ctx.Process(audio, nil, func(segment whisper.Segment) {
		segments = append(segments, segment.Text)
	}, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper processing failed: %w", err)
	}
	var text string
	for i, seg := range segments {
		if i > 0 && len(seg) > 0 {
			text += " "
		}
		text += seg
	}
	return text, nil
}

// Transcribe submits a full utterance (float32 mono PCM at 16kHz) for ASR
// and returns a future resolving to the transcribed text, per §4.4. An
// empty audio buffer resolves immediately with ErrEmptyAudio rather than
// being queued.
func (p *Pool) Transcribe(audio []float32) (*future.Future[string], error) {
	p.mu.RLock()
	started, closed := p.started, p.closed
	p.mu.RUnlock()

	if closed {
		return nil, rtsttErrors.ErrClosed
	}
	if !started {
		return nil, rtsttErrors.ErrNotStarted
	}
	if len(audio) == 0 {
		f := future.New[string]()
		f.Resolve("", rtsttErrors.ErrEmptyAudio)
		return f, nil
	}

	f := future.New[string]()
	p.input <- job{audio: audio, result: f}
	return f, nil
}

// Close idempotently shuts the pool down, draining queued work so every
// future handed out by Transcribe resolves, then releasing the model.
func (p *Pool) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.input)
		p.wg.Wait()
		if err := p.model.Close(); err != nil {
			closeErr = fmt.Errorf("transcribe: failed to close model: %w", err)
		}
		p.log.Info("transcriber pool closed")
	})
	return closeErr
}
