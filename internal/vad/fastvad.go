// Package vad implements the two-stage voice-activity detection described in
// §4.2 (FastVAD, C2) and §4.3 (NeuralVADPool, C3).
package vad

import (
	"math"

	rtsttErrors "github.com/kestrelstt/rtstt/internal/errors"
)

// validDurationsMs are the only chunk durations FastVAD accepts, per §3/§4.2.
var validDurationsMs = map[int]bool{10: true, 20: true, 30: true}

// aggressivenessThresholds maps FastVAD's 0..3 aggressiveness knob to an RMS
// energy threshold, generalizing the teacher's single fixed-threshold
// VoiceActivityDetector.calculateEnergy gate (server/internal/transcription/vad.go)
// into the spec's four-level dial. Lower aggressiveness tolerates more noise
// as speech (a lower bar to clear); higher aggressiveness demands louder,
// cleaner signal before calling it voice.
var aggressivenessThresholds = [4]float64{50.0, 100.0, 200.0, 400.0}

// FastVAD is a stateless, synchronous per-chunk voice-activity predicate. It
// must be cheap enough to run directly on the I/O path (§4.2): no
// allocation beyond the call stack, no suspension points (§5).
type FastVAD struct {
	sampleRate      int
	aggressiveness  int
	threshold       float64
}

// NewFastVAD constructs a FastVAD gate. aggressiveness must be 0..3; values
// outside that range are clamped to the nearest bound rather than rejected,
// since aggressiveness is a tuning dial, not a protocol-level input.
func NewFastVAD(sampleRate, aggressiveness int) *FastVAD {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return &FastVAD{
		sampleRate:     sampleRate,
		aggressiveness: aggressiveness,
		threshold:      aggressivenessThresholds[aggressiveness],
	}
}

// chunkDurationMs returns the duration, in milliseconds, that a chunk of the
// given byte length represents at this FastVAD's configured sample rate,
// assuming 16-bit mono samples.
func (v *FastVAD) chunkDurationMs(n int) int {
	samples := n / 2
	return samples * 1000 / v.sampleRate
}

// IsSpeech reports whether the chunk contains voice activity. chunk must be
// 16-bit little-endian mono PCM whose duration is 10, 20, or 30ms; violating
// this is a programmer error per §4.2 and returns ErrInvalidChunkDuration.
func (v *FastVAD) IsSpeech(chunk []byte) (bool, error) {
	durationMs := v.chunkDurationMs(len(chunk))
	if !validDurationsMs[durationMs] {
		return false, rtsttErrors.ErrInvalidChunkDuration
	}
	return energyRMS(chunk) > v.threshold, nil
}

// energyRMS computes the root-mean-square energy of 16-bit little-endian PCM,
// the same statistic the teacher's VAD uses (calculateEnergy).
func energyRMS(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := int16(chunk[i*2]) | int16(chunk[i*2+1])<<8
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}
