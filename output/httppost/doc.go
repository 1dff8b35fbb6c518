// Package httppost provides an event consumer that posts the data around
// each triggering event to an HTTP endpoint.
//
// # Payload
//
// Every event on the trigger channel produces one JSON POST:
//
//	{
//	  "consumer": "alerts",
//	  "session": "8d0c...",
//	  "event": {"id": "...", "name": "burst", "time": 2.0, "duration": 0.5, ...},
//	  "sources": [
//	    {"source": 0, "time": 2.0, "rate": 100, "dim": 3, "labels": ["x","y","z"],
//	     "samples": [[...], ...]}
//	  ]
//	}
//
// sources holds one entry per configured source covering exactly
// [event.time, event.time+event.duration).
//
// # Delivery
//
// A request counts as delivered on any 2xx response. Network errors and
// 5xx or 429 responses are retried with exponential backoff up to
// retry_count times; other 4xx responses are not retried. A snapshot that
// still fails is dropped and counted; the consumer keeps running so one
// unreachable endpoint cannot stall the pipeline.
package httppost
