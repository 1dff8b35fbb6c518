// Package websocket provides a consumer that broadcasts frames to WebSocket
// clients, for live plotting and dashboards.
//
// # Server
//
// Enter starts an HTTP server on bind:port serving the upgrade endpoint at
// Path. Port 0 picks a free port; Addr reports the bound address. Close
// shuts the server down and disconnects every client.
//
// # Message Format
//
// Every Consume call produces one text message:
//
//	{
//	  "type": "frame",
//	  "id": "frame-17",
//	  "timestamp": 1718000000000,
//	  "payload": {
//	    "consumer": "scope",
//	    "time": 12.5,
//	    "sources": [
//	      {"source": 0, "rate": 100, "dim": 3, "labels": ["x","y","z"], "samples": [[...], ...]}
//	    ]
//	  }
//	}
//
// time is the frame start in seconds since pipeline start; timestamp is the
// wall clock in Unix milliseconds. Only the frame part of each window is
// sent.
//
// # Slow Clients
//
// Each client has its own bounded send queue drained by a writer goroutine.
// When the queue is full the oldest message is dropped, so a slow client
// never stalls the consumer. A write that exceeds WriteTimeout disconnects
// the client. Idle connections are kept alive with pings every
// PingInterval.
//
// # Metrics
//
// With a metrics registry the output registers, under namespace
// sigstream_websocket:
//
//	messages_sent_total, bytes_sent_total, messages_dropped_total,
//	clients_connected, client_connections_total,
//	client_disconnections_total{reason}, broadcast_duration_seconds,
//	errors_total{type}
package websocket
