// Package synthetic provides a sensor that generates waveforms instead of
// reading a device.
//
// Each configured channel produces Num samples per call at SampleRate,
// computed from the pipeline time of the chunk, so the output is
// reproducible across runs:
//
//	{
//	  "channels": [
//	    {"name": "acc", "waveform": "sine", "frequency": 2, "sample_rate": 100, "num": 10, "dim": 3}
//	  ],
//	  "burst": {"every": 1.0, "duration": 0.2}
//	}
//
// Supported waveforms are sine, square, sawtooth and ramp. Ramp writes the
// absolute sample index scaled by Amplitude, which makes alignment easy to
// check downstream. Dimensions of a periodic waveform are phase shifted by
// 2π/Dim. Noise adds Gaussian noise with the given standard deviation from
// a generator seeded with Seed.
//
// When Burst is set the first channel emits an event every Burst.Every
// seconds covering the last Burst.Duration seconds of data. The event
// channel is the one the pipeline entry declares with "emits".
package synthetic
