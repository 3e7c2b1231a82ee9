package session

import (
	"sync"
	"sync/atomic"

	"github.com/claude/rehabai/internal/pose"
)

// FrameBuffer holds the most recent captured frame for the next tick.
// Publishing over an unconsumed frame replaces it and counts a drop.
type FrameBuffer struct {
	mu      sync.Mutex
	frame   pose.Frame
	pending bool

	drops atomic.Uint64
}

// NewFrameBuffer creates an empty FrameBuffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish stores frame as the latest capture. Never blocks on the consumer.
func (b *FrameBuffer) Publish(frame pose.Frame) {
	b.mu.Lock()
	if b.pending {
		b.drops.Add(1)
	}
	b.frame = frame
	b.pending = true
	b.mu.Unlock()
}

// Take returns the latest unconsumed frame.
func (b *FrameBuffer) Take() (pose.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pending {
		return pose.Frame{}, false
	}
	f := b.frame
	b.frame = pose.Frame{}
	b.pending = false
	return f, true
}

// Drops returns how many frames were overwritten before being consumed.
func (b *FrameBuffer) Drops() uint64 { return b.drops.Load() }
