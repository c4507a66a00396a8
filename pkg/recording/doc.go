// Package recording manages the temporary files backing per-call recordings.
//
// Raw PCM is appended to a file while a call is in progress. Finalizing a
// recording encodes it in place so the completed file holds the payload that is
// streamed to remote servers.
package recording
