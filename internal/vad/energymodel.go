package vad

import "math"

// EnergyModel is a reference NeuralVADPool Model: a windowed RMS-energy
// classifier standing in for a real neural network (Silero, webrtcvad),
// grounded on the original's black-box is_active contract
// (original_source/src/lite_rtstt/stt/vad_client.py — "active iff at least
// one speech timestamp span is returned"). It treats the whole window as a
// single span and reports active iff its RMS energy clears the threshold.
type EnergyModel struct {
	sampleRate int
	threshold  float32
}

// NewEnergyModel constructs a reference Model. It satisfies ModelFactory
// when partially applied, e.g. func() (Model, error) { return
// NewEnergyModel(sampleRate), nil }.
func NewEnergyModel(sampleRate int) *EnergyModel {
	return &EnergyModel{sampleRate: sampleRate, threshold: 0.02}
}

// Active reports whether the float32 window's RMS energy clears the
// model's threshold.
func (m *EnergyModel) Active(samples []float32) (bool, error) {
	if len(samples) == 0 {
		return false, nil
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return rms > float64(m.threshold), nil
}

// Close is a no-op: EnergyModel holds no resources.
func (m *EnergyModel) Close() error { return nil }
