// Package config loads sigstream configuration.
//
// A Config has three sections: framework (orchestrator timing, buffer
// history, network sync, metrics endpoint), log, and an optional pipeline
// description the CLI builds through the component registry.
//
// Files may be JSON or YAML, chosen by extension. Each file is checked
// against an embedded JSON schema before it is merged, so unknown keys and
// wrongly typed values fail early with the offending field named. Durations
// accept Go duration strings ("250ms") or numbers of seconds.
//
//	cfg, err := config.NewLoader().
//		AddLayer("sigstream.yaml").
//		AddLayer("site.yaml").
//		Load()
//
// Environment variables with the SIGSTREAM_ prefix override file values,
// for example SIGSTREAM_NETSYNC_ROLE=client or SIGSTREAM_LOG_LEVEL=debug.
package config
