// Package sigstream is a dataflow engine for sensor acquisition and signal
// processing. Sensors produce time-stamped, multi-dimensional samples at
// their own rates; transformers derive new streams from windows of those
// samples; consumers log, display or publish the results; events mark
// intervals of interest and drive consumers that only care about those
// intervals.
//
// # Architecture
//
//	┌───────────┐   TimeBuffer   ┌─────────────┐   TimeBuffer   ┌──────────┐
//	│  Sensor   │──(per channel)─│ Transformer │────────────────│ Consumer │
//	│ channels  │                │ frame/delta │                │  frames  │
//	└───────────┘                └─────────────┘                └──────────┘
//	      │ emits                                                     │
//	      ▼                                                           ▼
//	┌───────────────┐  notify  ┌────────────────┐ window [t, t+d) ┌──────────┐
//	│ event.Channel │─────────▶│ Event consumer │◀────────────────│ buffers  │
//	└───────────────┘          └────────────────┘                 └──────────┘
//
// Every provider output lands in a pkg/buffer.TimeBuffer: a ring that keeps
// a fixed number of seconds of history and is addressed by pipeline time,
// not by sample index. A consumer with frame f and delta d reads the window
// [k*f, (k+1)*f+d) for frame k from each of its sources, whatever their
// sample rates: d seconds of look-back followed by the frame. Readers that ask for data not written yet wait; readers
// that fall behind the ring skip frames instead of stalling the writer.
//
// # Packages
//
//   - stream: the typed sample chunk passed between components
//   - pkg/buffer: TimeBuffer and the generic CircularBuffer used for queues
//   - pkg/timer: the pipeline clock
//   - component: capability interfaces, lifecycle states and the factory registry
//   - event: events, event channels and listeners
//   - pipeline: the Framework that registers components, allocates buffers
//     and runs one goroutine per unit
//   - netsync: starting pipelines on several machines at the same moment
//   - config: framework and pipeline configuration from JSON or YAML
//   - componentregistry: the built-in sensors, transformers and outputs
//
// # Running
//
// The sigstream command builds a pipeline from a configuration file and
// runs it until interrupted:
//
//	sigstream --config pipeline.yaml
//	sigstream --config pipeline.yaml --validate
//	sigstream --list-components
//
// A minimal configuration generating a waveform and recording two of its
// dimensions:
//
//	framework:
//	  countdown: 1s
//	  buffer_size: 10
//	pipeline:
//	  sensors:
//	    - name: gen
//	      factory: synthetic
//	      config:
//	        channels:
//	          - {name: imu, waveform: sine, frequency: 1, sample_rate: 100, num: 10, dim: 3, labels: [x, y, z]}
//	  transformers:
//	    - name: zx
//	      factory: selector
//	      sources: [gen.imu]
//	      frame: 0.1
//	      config: {labels: [z, x]}
//	  consumers:
//	    - name: recorder
//	      factory: file
//	      sources: [zx]
//	      frame: 1
//	      config: {directory: /tmp/sigstream, file_prefix: zx}
package sigstream
