// Package file provides a consumer that writes frames to a file on disk.
//
// # Formats
//
// csv writes one row per sample and source, without a header:
//
//	source,time,v0,v1,...
//
// where source is the index of the source in registration order, time is
// the sample time in seconds since pipeline start and v0.. are the sample's
// dimensions widened to float64.
//
// jsonl writes one object per source and frame:
//
//	{"source":0,"time":1.5,"rate":100,"dim":3,"samples":[[...],[...]]}
//
// Only the frame part of each window is written, stamped with its own time.
// The leading delta samples repeat the end of the previous frame and are
// not duplicated.
//
// # Lifecycle
//
// The file is opened by Enter on the consumer's goroutine, rows are
// buffered and pushed to disk by Flush, and Close flushes and releases the
// file. The file name is <directory>/<file_prefix>.<format>; Append keeps
// existing content, otherwise the file is truncated.
package file
