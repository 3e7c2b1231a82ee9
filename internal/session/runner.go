// Package session drives the rep counter from a fixed-period sampling tick.
//
// Each tick takes the latest frame, asks the pose source for an estimate and
// feeds the first detected pose to the counter. If the previous estimate is
// still running when a tick fires, that tick is dropped rather than queued,
// so a slow model never builds a backlog.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/repcount"
	"github.com/google/uuid"
)

const (
	DefaultPeriod          = 100 * time.Millisecond
	DefaultEstimateTimeout = 2 * time.Second
)

// Stats counts what happened on the sampling ticks of a session.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	TicksDropped   uint64 `json:"ticks_dropped"`
	Estimates      uint64 `json:"estimates"`
	EstimateErrors uint64 `json:"estimate_errors"`
	NoPose         uint64 `json:"no_pose"`
	FramesDropped  uint64 `json:"frames_dropped"`
	PosesDropped   uint64 `json:"poses_dropped"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Ticks:          s.Ticks + o.Ticks,
		TicksDropped:   s.TicksDropped + o.TicksDropped,
		Estimates:      s.Estimates + o.Estimates,
		EstimateErrors: s.EstimateErrors + o.EstimateErrors,
		NoPose:         s.NoPose + o.NoPose,
		FramesDropped:  s.FramesDropped + o.FramesDropped,
		PosesDropped:   s.PosesDropped + o.PosesDropped,
	}
}

// Snapshot is the externally visible state of a counting session.
type Snapshot struct {
	ID        uuid.UUID      `json:"id"`
	UserID    int            `json:"user_id"`
	Exercise  string         `json:"exercise"`
	State     repcount.State `json:"state"`
	Phase     repcount.Phase `json:"phase"`
	Angle     float64        `json:"angle"`
	Coverage  float64        `json:"coverage"`
	Running   bool           `json:"running"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Stats     Stats          `json:"stats"`
}

// Options configures a Runner.
type Options struct {
	UserID          int
	Exercise        repcount.Exercise
	Period          time.Duration
	EstimateTimeout time.Duration
	// Frames supplies the frame handed to the source on each tick. When nil
	// the source is called with an empty frame.
	Frames *FrameBuffer
	// OnChange is called after any tick that changed the counter state.
	OnChange func(Snapshot)
	Log      *slog.Logger
}

// Runner owns one counting session.
type Runner struct {
	id       uuid.UUID
	userID   int
	source   pose.Source
	frames   *FrameBuffer
	period   time.Duration
	timeout  time.Duration
	onChange func(Snapshot)
	log      *slog.Logger

	mu        sync.Mutex
	counter   *repcount.Counter
	startedAt time.Time
	updatedAt time.Time
	running   bool

	inFlight       atomic.Bool
	ticks          atomic.Uint64
	ticksDropped   atomic.Uint64
	estimates      atomic.Uint64
	estimateErrors atomic.Uint64
	noPose         atomic.Uint64
}

// NewRunner creates a Runner reading poses from source.
func NewRunner(source pose.Source, opts Options) *Runner {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.EstimateTimeout <= 0 {
		opts.EstimateTimeout = DefaultEstimateTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	now := time.Now().UTC()
	id := uuid.New()
	return &Runner{
		id:        id,
		userID:    opts.UserID,
		source:    source,
		frames:    opts.Frames,
		period:    opts.Period,
		timeout:   opts.EstimateTimeout,
		onChange:  opts.OnChange,
		log:       opts.Log.With("session", id.String()),
		counter:   repcount.NewCounter(opts.Exercise),
		startedAt: now,
		updatedAt: now,
	}
}

// ID returns the session identifier.
func (r *Runner) ID() uuid.UUID { return r.id }

// Run ticks until ctx is cancelled, then waits for any in-flight estimate.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.log.Info("session started", "exercise", r.counter.Exercise().Name, "period", r.period.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("session stopped", "reps", r.Snapshot().State.Reps)
			return nil
		case <-ticker.C:
			if !r.begin() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer r.inFlight.Store(false)
				r.process(ctx)
			}()
		}
	}
}

// Tick runs one sampling tick synchronously. It returns false when the tick
// was dropped because another estimate was still in flight.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.begin() {
		return false
	}
	defer r.inFlight.Store(false)
	r.process(ctx)
	return true
}

// begin records a tick and claims the in-flight slot.
func (r *Runner) begin() bool {
	r.ticks.Add(1)
	if !r.inFlight.CompareAndSwap(false, true) {
		r.ticksDropped.Add(1)
		return false
	}
	return true
}

func (r *Runner) process(ctx context.Context) {
	var frame pose.Frame
	if r.frames != nil {
		f, ok := r.frames.Take()
		if !ok {
			r.noPose.Add(1)
			return
		}
		frame = f
	}

	ectx, cancel := context.WithTimeout(ctx, r.timeout)
	poses, err := r.source.Estimate(ectx, frame)
	cancel()
	r.estimates.Add(1)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		r.estimateErrors.Add(1)
		r.log.Debug("estimate failed, treating as no pose", "error", err)
		poses = nil
	}

	p := pose.FirstPose(poses)
	if p == nil {
		r.noPose.Add(1)
	}

	r.mu.Lock()
	_, changed := r.counter.Observe(p)
	r.updatedAt = time.Now().UTC()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(snap)
	}
}

// Restore seeds the counter, e.g. when resuming a serialized session.
func (r *Runner) Restore(s repcount.State) {
	r.mu.Lock()
	r.counter.Restore(s)
	r.mu.Unlock()
}

// Snapshot returns the current session view.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Stats returns the tick counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Ticks:          r.ticks.Load(),
		TicksDropped:   r.ticksDropped.Load(),
		Estimates:      r.estimates.Load(),
		EstimateErrors: r.estimateErrors.Load(),
		NoPose:         r.noPose.Load(),
	}
	if r.frames != nil {
		s.FramesDropped = r.frames.Drops()
	}
	if d, ok := r.source.(dropCounter); ok {
		s.PosesDropped = d.Drops()
	}
	return s
}

// dropCounter is a source that overwrites unconsumed estimates, such as
// *pose.Mailbox.
type dropCounter interface {
	Drops() uint64
}

func (r *Runner) snapshotLocked() Snapshot {
	state := r.counter.State()
	return Snapshot{
		ID:        r.id,
		UserID:    r.userID,
		Exercise:  r.counter.Exercise().Name,
		State:     state,
		Phase:     state.Phase(),
		Angle:     r.counter.LastAngle(),
		Coverage:  r.counter.Coverage(),
		Running:   r.running,
		StartedAt: r.startedAt,
		UpdatedAt: r.updatedAt,
		Stats:     r.Stats(),
	}
}
