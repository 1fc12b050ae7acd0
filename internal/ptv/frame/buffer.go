package frame

import (
	"github.com/fluidlab/ptv3d/internal/ptv"
)

// Buffer is the fixed-capacity rolling window of consecutive frames the
// tracker operates on. Frames enter in strict numeric order; once the
// window is full the oldest frame is evicted on each advance.
//
// The buffer is single-writer: only the tracker mutates it, and never
// concurrently.
type Buffer struct {
	frames []*Frame
	cap    int
	// next is the frame number the buffer expects, once armed. Zero value
	// means "accept any frame number first".
	next  int
	armed bool
}

// NewBuffer creates a buffer with the given capacity. A non-positive
// capacity falls back to ptv.BufSpace.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = ptv.BufSpace
	}
	return &Buffer{cap: capacity}
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.cap }

// Len returns the number of buffered frames.
func (b *Buffer) Len() int { return len(b.frames) }

// Advance appends a frame and returns the evicted oldest frame, if the
// capacity was exceeded. Frames must arrive with strictly increasing,
// contiguous numbers; a violation returns a *ptv.SequenceError and leaves
// the buffer unchanged.
func (b *Buffer) Advance(f *Frame) (*Frame, error) {
	if b.armed && f.Num != b.next {
		return nil, &ptv.SequenceError{Want: b.next, Got: f.Num}
	}
	b.frames = append(b.frames, f)
	b.next = f.Num + 1
	b.armed = true

	if len(b.frames) > b.cap {
		evicted := b.frames[0]
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
		return evicted, nil
	}
	return nil, nil
}

// Window returns the buffered frames, oldest first. The returned slice is
// shared; callers must not retain it across an Advance.
func (b *Buffer) Window() []*Frame { return b.frames }

// Frame returns the buffered frame with the given number, or nil.
func (b *Buffer) Frame(num int) *Frame {
	for _, f := range b.frames {
		if f.Num == num {
			return f
		}
	}
	return nil
}

// RewindTo clears the buffer and arms it so the next Advance must carry
// the given frame number.
func (b *Buffer) RewindTo(num int) {
	b.frames = b.frames[:0]
	b.next = num
	b.armed = true
}
