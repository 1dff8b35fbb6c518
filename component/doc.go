// Package component defines the capability interfaces the pipeline drives.
//
// There is no base type to embed. A component is anything with a Name, and
// the framework decides what to do with it by asserting the capabilities it
// implements:
//
//	Sensor         Connect/Disconnect, owns one or more Channels
//	Channel        produces Spec().Num samples per Process call
//	Transformer    reads source windows, writes one derived stream
//	Consumer       reads source windows, writes nothing
//	EventConsumer  reads the window an event covers
//
// Optional hooks (Initializer, Enterer, Flusher, Closer, BufferSizer) are
// detected the same way. Methods a component does not need are simply not
// written.
//
// # Lifecycle
//
// Each registered component gets a Tracker. Legal moves are
//
//	created -> initialized -> running -> stopping -> closed
//
// with failed reachable from every non-terminal state and closed reachable
// from failed. Tracker.Transition rejects anything else with
// errors.ErrInvalidState.
//
// # Factories
//
// Registry maps factory names to constructors taking raw JSON config, so a
// pipeline can be described in a config file. Factories do no I/O.
package component
