// Package udp provides a sensor that receives samples over a UDP socket.
//
// # Wire format
//
// Every datagram carries one or more samples. A sample is Dim
// little-endian IEEE 754 values of the configured Format (float64 or
// float32), and samples are interleaved in arrival order. A datagram whose
// length is not a whole number of samples is dropped and counted as
// malformed.
//
// # Pacing
//
// The read loop decodes datagrams into a bounded queue. The channel drains
// up to Num samples each time the pipeline asks for a chunk, so the device
// may send at any packet rate as long as the average sample rate matches
// SampleRate. When the queue is empty the chunk is reported stale and the
// pipeline writes zeroes in its place. When it overflows the oldest samples
// are dropped.
//
// # Configuration
//
//	{
//	  "bind": "0.0.0.0",
//	  "port": 5005,
//	  "channel": "samples",
//	  "format": "float32",
//	  "dim": 3,
//	  "sample_rate": 200,
//	  "num": 20,
//	  "queue_size": 4096
//	}
//
// Port 0 binds an ephemeral port; Addr reports it after Connect.
//
// # Metrics
//
// With a metrics registry the sensor exports packets and bytes received,
// malformed packets, dropped samples, socket errors and the time of the
// last packet under sigstream_udp_*, plus the queue metrics of pkg/buffer.
package udp
