package pose

import (
	"context"
	"sync"
)

// Mailbox is a single-slot Source fed by a producer that runs the model
// elsewhere (typically the browser). Push overwrites any unconsumed result;
// Estimate consumes the latest one or reports no pose.
type Mailbox struct {
	mu      sync.Mutex
	poses   []Pose
	pending bool
	drops   uint64
}

// Compile-time check: Mailbox satisfies Source.
var _ Source = (*Mailbox)(nil)

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Push stores the latest estimate, replacing one that was never consumed.
func (m *Mailbox) Push(poses []Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		m.drops++
	}
	m.poses = poses
	m.pending = true
}

// Estimate returns the pending estimate, if any. The frame is ignored.
func (m *Mailbox) Estimate(ctx context.Context, _ Frame) ([]Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		return nil, nil
	}
	poses := m.poses
	m.poses = nil
	m.pending = false
	return poses, nil
}

// Drops returns how many estimates were overwritten before a tick
// consumed them.
func (m *Mailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}
