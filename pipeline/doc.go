// Package pipeline wires sensors, transformers and consumers into a running
// dataflow.
//
// A Framework is built explicitly with New and populated through the
// registration methods. Each Add call validates the request, initializes the
// component and allocates the TimeBuffer its output will be written to, so a
// misconfigured graph is rejected before anything runs:
//
//	fw, err := pipeline.New(cfg.Framework, pipeline.WithLogger(logger))
//	outs, err := fw.AddSensor(mic)
//	env, err := fw.AddTransformer(envelope, outs, 0.1, 0)
//	err = fw.AddConsumer(writer, []component.Provider{env}, 1.0, 0)
//
// Start submits one task per sensor, channel and consumer, waits for the
// countdown and the optional network start signal, then starts the pipeline
// clock. From then on every stage runs on its own goroutine and talks to the
// others only through buffers:
//
//   - channels push Spec().Num samples every Num/SampleRate seconds and pad
//     with zeroes when they have nothing, so all buffers stay aligned to the
//     clock;
//   - transformers and consumers read frame k as the window
//     [k*frame, (k+1)*frame+delta) from each source and poll until it is
//     available. The first delta seconds are look-back; the frame proper
//     is the newest frame seconds;
//   - event consumers read [ev.Time, ev.End()) for every trigger event.
//
// A unit that fails is marked Failed and stops; its siblings keep running.
// A sensor that never connects fails its channels, and a unit none of
// whose sources ever started fails too, so the failure follows the graph
// downstream. A unit with at least one live source runs and reads zeroes
// in place of the dead ones. Stop closes every buffer and
// channel, waits for the tasks to return and then flushes and closes each
// component.
package pipeline
