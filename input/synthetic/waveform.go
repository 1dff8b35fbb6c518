package synthetic

import (
	"fmt"
	"math"
)

// Waveform names
const (
	WaveSine     = "sine"
	WaveSquare   = "square"
	WaveSawtooth = "sawtooth"
	WaveRamp     = "ramp"
)

// waveFunc returns the value of dimension d of a dim-wide sample at time t,
// sample index i, before amplitude and offset are applied.
type waveFunc func(t float64, i int64, d, dim int) float64

func lookupWave(name string, freq float64) (waveFunc, error) {
	phase := func(t float64, d, dim int) float64 {
		return 2*math.Pi*freq*t + 2*math.Pi*float64(d)/float64(dim)
	}

	switch name {
	case WaveSine, "":
		return func(t float64, _ int64, d, dim int) float64 {
			return math.Sin(phase(t, d, dim))
		}, nil
	case WaveSquare:
		return func(t float64, _ int64, d, dim int) float64 {
			if math.Sin(phase(t, d, dim)) >= 0 {
				return 1
			}
			return -1
		}, nil
	case WaveSawtooth:
		return func(t float64, _ int64, d, dim int) float64 {
			cycle := freq*t + float64(d)/float64(dim)
			return 2*(cycle-math.Floor(cycle)) - 1
		}, nil
	case WaveRamp:
		return func(_ float64, i int64, _, _ int) float64 {
			return float64(i)
		}, nil
	}
	return nil, fmt.Errorf("unknown waveform %q", name)
}
