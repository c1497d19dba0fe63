// Package protocol defines the websocket wire format: the JSON handshake,
// outbound status and segment messages, and raw float32 PCM audio frames.
package protocol
