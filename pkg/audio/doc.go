// Package audio holds the telephony audio primitives: G.711 μ-law
// encoding, a frame-slicing jitter buffer and the fixed-cadence [Pacer]
// that drives outbound playback.
//
// All audio handled here is 8-bit μ-law, one byte per sample. A frame is a
// fixed number of bytes; at 8 kHz the default 160-byte frame carries 20 ms.
package audio
