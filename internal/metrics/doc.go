// Package metrics exposes Prometheus collectors for sessions, audio windows,
// transcription calls and client writes.
package metrics
