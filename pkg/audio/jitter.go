package audio

// JitterBuffer is an ordered byte queue that hands out fixed-size frames.
// When fewer than one frame of audio is queued, [JitterBuffer.Next] yields a
// silence frame instead, so a consumer on a fixed clock always gets exactly
// one frame per call.
//
// JitterBuffer is not safe for concurrent use; it is owned by a single
// goroutine (the call's event loop).
type JitterBuffer struct {
	frameSize int
	silence   []byte
	queue     []byte
}

// NewJitterBuffer returns an empty buffer producing frames of frameSize
// bytes. frameSize must be positive.
func NewJitterBuffer(frameSize int) *JitterBuffer {
	return &JitterBuffer{
		frameSize: frameSize,
		silence:   SilenceFrame(frameSize),
	}
}

// FrameSize returns the number of bytes per frame.
func (b *JitterBuffer) FrameSize() int { return b.frameSize }

// Write appends p to the tail of the queue. p is copied.
func (b *JitterBuffer) Write(p []byte) {
	b.queue = append(b.queue, p...)
}

// Next removes and returns the frame at the head of the queue. If less than a
// full frame is queued it returns a copy of the silence frame and false, and
// leaves any partial tail in place for the next call.
func (b *JitterBuffer) Next() (frame []byte, fromQueue bool) {
	if len(b.queue) < b.frameSize {
		return append([]byte(nil), b.silence...), false
	}
	frame = append([]byte(nil), b.queue[:b.frameSize]...)
	b.queue = b.queue[b.frameSize:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return frame, true
}

// Flush pads a partial tail frame with silence so it becomes drainable. It
// is a no-op when the queue holds whole frames only.
func (b *JitterBuffer) Flush() {
	if rem := len(b.queue) % b.frameSize; rem != 0 {
		b.queue = append(b.queue, b.silence[:b.frameSize-rem]...)
	}
}

// Clear discards everything queued.
func (b *JitterBuffer) Clear() {
	b.queue = nil
}

// Len returns the number of queued bytes.
func (b *JitterBuffer) Len() int { return len(b.queue) }
