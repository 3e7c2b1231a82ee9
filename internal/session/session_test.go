package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/repcount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func arm(deg float64) []pose.Pose {
	rad := deg * math.Pi / 180
	return []pose.Pose{{Keypoints: []pose.Keypoint{
		{Name: pose.LeftShoulder, X: 100, Y: 0, Score: 0.9},
		{Name: pose.LeftElbow, X: 0, Y: 0, Score: 0.9},
		{Name: pose.LeftWrist, X: 100 * math.Cos(rad), Y: 100 * math.Sin(rad), Score: 0.9},
	}}}
}

func TestRunnerTickCountsReps(t *testing.T) {
	mb := pose.NewMailbox()
	var mu sync.Mutex
	var changes []Snapshot
	r := NewRunner(mb, Options{
		UserID:   7,
		Exercise: repcount.BicepCurl(repcount.SideLeft),
		OnChange: func(s Snapshot) {
			mu.Lock()
			changes = append(changes, s)
			mu.Unlock()
		},
		Log: quietLog(),
	})
	ctx := context.Background()

	for _, deg := range []float64{170, 150, 40, 170} {
		mb.Push(arm(deg))
		require.True(t, r.Tick(ctx))
	}

	snap := r.Snapshot()
	assert.Equal(t, uint(1), snap.State.Reps)
	assert.Equal(t, repcount.PhaseExtended, snap.Phase)
	assert.Equal(t, 7, snap.UserID)
	assert.Equal(t, "bicep_curl", snap.Exercise)
	assert.Equal(t, uint64(4), snap.Stats.Ticks)
	assert.Equal(t, uint64(4), snap.Stats.Estimates)

	mu.Lock()
	defer mu.Unlock()
	// prime, count, prime again
	require.Len(t, changes, 3)
	assert.Equal(t, uint(1), changes[1].State.Reps)
}

func TestRunnerEmptyMailboxIsNoPose(t *testing.T) {
	r := NewRunner(pose.NewMailbox(), Options{Exercise: repcount.BicepCurl(repcount.SideLeft), Log: quietLog()})
	require.True(t, r.Tick(context.Background()))
	assert.Equal(t, uint64(1), r.Stats().NoPose)
	assert.Equal(t, repcount.State{}, r.Snapshot().State)
}

func TestRunnerReportsOverwrittenPoses(t *testing.T) {
	mb := pose.NewMailbox()
	r := NewRunner(mb, Options{Exercise: repcount.BicepCurl(repcount.SideLeft), Log: quietLog()})

	mb.Push(arm(100))
	mb.Push(arm(170))
	require.True(t, r.Tick(context.Background()))

	assert.Equal(t, uint64(1), r.Stats().PosesDropped)
	assert.True(t, r.Snapshot().State.Primed)
	assert.Equal(t, uint64(2), r.Stats().Add(r.Stats()).PosesDropped)
}

func TestRunnerEstimateErrorIsAbsorbed(t *testing.T) {
	src := pose.SourceFunc(func(ctx context.Context, _ pose.Frame) ([]pose.Pose, error) {
		return nil, errors.New("model not loaded")
	})
	r := NewRunner(src, Options{Exercise: repcount.BicepCurl(repcount.SideLeft), Log: quietLog()})
	r.Restore(repcount.State{Reps: 4, Primed: true})

	require.True(t, r.Tick(context.Background()))

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.EstimateErrors)
	assert.Equal(t, uint64(1), stats.NoPose)
	assert.Equal(t, repcount.State{Reps: 4, Primed: true}, r.Snapshot().State)
}

func TestRunnerDropsTickWhileEstimateInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := pose.SourceFunc(func(ctx context.Context, _ pose.Frame) ([]pose.Pose, error) {
		close(entered)
		<-release
		return arm(170), nil
	})
	r := NewRunner(src, Options{Exercise: repcount.BicepCurl(repcount.SideLeft), Log: quietLog()})

	done := make(chan bool)
	go func() { done <- r.Tick(context.Background()) }()
	<-entered

	assert.False(t, r.Tick(context.Background()), "overlapping tick must be dropped")
	assert.False(t, r.Tick(context.Background()))

	close(release)
	assert.True(t, <-done)

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Ticks)
	assert.Equal(t, uint64(2), stats.TicksDropped)
	assert.Equal(t, uint64(1), stats.Estimates)
	assert.True(t, r.Snapshot().State.Primed)
}

func TestRunnerWithFramesSkipsWithoutNewFrame(t *testing.T) {
	var calls int
	src := pose.SourceFunc(func(ctx context.Context, f pose.Frame) ([]pose.Pose, error) {
		calls++
		assert.Equal(t, []byte("frame-2"), f.Data)
		return arm(170), nil
	})
	frames := NewFrameBuffer()
	r := NewRunner(src, Options{Exercise: repcount.BicepCurl(repcount.SideLeft), Frames: frames, Log: quietLog()})

	require.True(t, r.Tick(context.Background()))
	assert.Equal(t, 0, calls)

	frames.Publish(pose.Frame{Data: []byte("frame-1")})
	frames.Publish(pose.Frame{Data: []byte("frame-2")})
	require.True(t, r.Tick(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(1), r.Stats().FramesDropped)
	assert.True(t, r.Snapshot().State.Primed)
}

func TestRunnerRunLoop(t *testing.T) {
	mb := pose.NewMailbox()
	r := NewRunner(mb, Options{
		Exercise: repcount.BicepCurl(repcount.SideLeft),
		Period:   2 * time.Millisecond,
		Log:      quietLog(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	mb.Push(arm(175))
	require.Eventually(t, func() bool { return r.Snapshot().State.Primed }, time.Second, time.Millisecond)
	mb.Push(arm(30))
	require.Eventually(t, func() bool { return r.Snapshot().State.Reps == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	assert.False(t, r.Snapshot().Running)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{Period: 2 * time.Millisecond}, nil, quietLog())
	defer m.Shutdown()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	snap, err := m.Start(1, "")
	require.NoError(t, err)
	assert.Equal(t, "bicep_curl", snap.Exercise)
	assert.True(t, snap.Running)

	_, err = m.Start(1, "")
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = m.Start(2, "squat")
	assert.ErrorIs(t, err, ErrUnknownExercise)

	assert.ErrorIs(t, m.PushFrame(1, pose.Frame{}), ErrWrongInput)
	assert.ErrorIs(t, m.PushPoses(3, arm(170)), ErrNoSession)

	require.NoError(t, m.PushPoses(1, arm(170)))
	require.Eventually(t, func() bool {
		cur, err := m.Current(1)
		return err == nil && cur.State.Primed
	}, time.Second, time.Millisecond)
	require.NoError(t, m.PushPoses(1, arm(20)))
	require.Eventually(t, func() bool {
		cur, _ := m.Current(1)
		return cur.State.Reps == 1
	}, time.Second, time.Millisecond)

	assert.Len(t, m.Active(), 1)

	final, err := m.Stop(1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), final.State.Reps)
	assert.False(t, final.Running)

	_, err = m.Current(1)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Stop(1)
	assert.ErrorIs(t, err, ErrNoSession)

	totals := m.Totals()
	assert.Equal(t, uint64(1), totals.FinishedSessions)
	assert.Equal(t, uint64(1), totals.RepsCounted)
	assert.Zero(t, totals.ActiveSessions)

	var sawStart, sawRep bool
	for len(updates) > 0 {
		u := <-updates
		if u.Running && u.State.Reps == 0 {
			sawStart = true
		}
		if u.State.Reps == 1 {
			sawRep = true
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawRep)
}

func TestManagerFrameMode(t *testing.T) {
	est := pose.SourceFunc(func(ctx context.Context, f pose.Frame) ([]pose.Pose, error) {
		return arm(170), nil
	})
	m := NewManager(ManagerConfig{Period: 2 * time.Millisecond, Estimator: est}, nil, quietLog())
	defer m.Shutdown()

	_, err := m.Start(5, "bicep_curl")
	require.NoError(t, err)
	assert.ErrorIs(t, m.PushPoses(5, arm(170)), ErrWrongInput)
	require.NoError(t, m.PushFrame(5, pose.Frame{Data: []byte{1}}))
	require.Eventually(t, func() bool {
		cur, _ := m.Current(5)
		return cur.State.Primed
	}, time.Second, time.Millisecond)
}

func TestManagerCatalog(t *testing.T) {
	knee := repcount.Exercise{Name: "knee_extension", Proximal: "left_hip", Vertex: "left_knee", Distal: "left_ankle"}
	m := NewManager(ManagerConfig{}, []repcount.Exercise{knee}, quietLog())
	defer m.Shutdown()

	names := []string{}
	for _, ex := range m.Exercises() {
		names = append(names, ex.Name)
	}
	assert.Equal(t, []string{"bicep_curl", "knee_extension"}, names)

	m.SetExercises(nil)
	assert.Len(t, m.Exercises(), 1)
}
