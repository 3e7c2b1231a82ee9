package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/repcount"
)

var (
	ErrSessionActive   = errors.New("a session is already running")
	ErrNoSession       = errors.New("no session running")
	ErrUnknownExercise = errors.New("unknown exercise")
	ErrWrongInput      = errors.New("session does not accept this input")
)

// ManagerConfig configures the live sessions created by a Manager.
type ManagerConfig struct {
	Period          time.Duration
	EstimateTimeout time.Duration
	DefaultExercise string
	// Estimator runs the pose model on uploaded frames. When nil, sessions
	// accept pose estimates produced by the client instead.
	Estimator pose.Source
}

type liveSession struct {
	runner  *Runner
	mailbox *pose.Mailbox
	frames  *FrameBuffer
	cancel  context.CancelFunc
	done    chan struct{}
}

// Totals aggregates tick counters across all sessions since startup.
type Totals struct {
	Stats
	ActiveSessions   int    `json:"active_sessions"`
	FinishedSessions uint64 `json:"finished_sessions"`
	RepsCounted      uint64 `json:"reps_counted"`
}

// Manager runs at most one live session per user.
type Manager struct {
	cfg  ManagerConfig
	log  *slog.Logger
	base context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	exercises map[string]repcount.Exercise
	sessions  map[int]*liveSession
	finished  Totals

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewManager creates a Manager with the given exercise catalog.
func NewManager(cfg ManagerConfig, exercises []repcount.Exercise, log *slog.Logger) *Manager {
	if cfg.DefaultExercise == "" {
		cfg.DefaultExercise = "bicep_curl"
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		log:      log,
		base:     base,
		stop:     stop,
		sessions: make(map[int]*liveSession),
		subs:     make(map[int]chan Snapshot),
	}
	m.SetExercises(exercises)
	return m
}

// SetExercises replaces the exercise catalog. Running sessions keep the
// definition they started with.
func (m *Manager) SetExercises(exercises []repcount.Exercise) {
	catalog := make(map[string]repcount.Exercise, len(exercises)+1)
	catalog["bicep_curl"] = repcount.BicepCurl(repcount.SideLeft)
	for _, ex := range exercises {
		catalog[ex.Name] = ex.WithDefaults()
	}
	m.mu.Lock()
	m.exercises = catalog
	m.mu.Unlock()
}

// Exercises returns the catalog sorted by name.
func (m *Manager) Exercises() []repcount.Exercise {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repcount.Exercise, 0, len(m.exercises))
	for _, ex := range m.exercises {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins a session for userID. An empty exercise name selects the default.
func (m *Manager) Start(userID int, exercise string) (Snapshot, error) {
	if exercise == "" {
		exercise = m.cfg.DefaultExercise
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[userID]; ok {
		return Snapshot{}, ErrSessionActive
	}
	ex, ok := m.exercises[exercise]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownExercise, exercise)
	}

	ls := &liveSession{done: make(chan struct{})}
	var source pose.Source
	if m.cfg.Estimator != nil {
		ls.frames = NewFrameBuffer()
		source = m.cfg.Estimator
	} else {
		ls.mailbox = pose.NewMailbox()
		source = ls.mailbox
	}

	ls.runner = NewRunner(source, Options{
		UserID:          userID,
		Exercise:        ex,
		Period:          m.cfg.Period,
		EstimateTimeout: m.cfg.EstimateTimeout,
		Frames:          ls.frames,
		OnChange:        m.publish,
		Log:             m.log.With("user_id", userID),
	})

	ctx, cancel := context.WithCancel(m.base)
	ls.cancel = cancel
	go func() {
		defer close(ls.done)
		_ = ls.runner.Run(ctx)
	}()

	m.sessions[userID] = ls
	snap := ls.runner.Snapshot()
	snap.Running = true
	m.publish(snap)
	return snap, nil
}

// Stop ends the user's session and returns its final snapshot.
func (m *Manager) Stop(userID int) (Snapshot, error) {
	m.mu.Lock()
	ls, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoSession
	}

	ls.cancel()
	<-ls.done

	snap := ls.runner.Snapshot()
	m.mu.Lock()
	m.finished.Stats = m.finished.Stats.Add(snap.Stats)
	m.finished.FinishedSessions++
	m.finished.RepsCounted += uint64(snap.State.Reps)
	m.mu.Unlock()

	m.publish(snap)
	return snap, nil
}

// Current returns the snapshot of the user's running session.
func (m *Manager) Current(userID int) (Snapshot, error) {
	m.mu.Lock()
	ls, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoSession
	}
	snap := ls.runner.Snapshot()
	snap.Running = true
	return snap, nil
}

// Active returns snapshots of all running sessions.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.sessions))
	for _, ls := range m.sessions {
		runners = append(runners, ls.runner)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(runners))
	for _, r := range runners {
		snap := r.Snapshot()
		snap.Running = true
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// PushPoses delivers a client-side estimate to the user's session.
func (m *Manager) PushPoses(userID int, poses []pose.Pose) error {
	m.mu.Lock()
	ls, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	if ls.mailbox == nil {
		return fmt.Errorf("%w: session expects frames", ErrWrongInput)
	}
	ls.mailbox.Push(poses)
	return nil
}

// PushFrame delivers a captured frame to the user's session.
func (m *Manager) PushFrame(userID int, frame pose.Frame) error {
	m.mu.Lock()
	ls, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	if ls.frames == nil {
		return fmt.Errorf("%w: session expects pose estimates", ErrWrongInput)
	}
	ls.frames.Publish(frame)
	return nil
}

// Totals returns counters for finished plus running sessions.
func (m *Manager) Totals() Totals {
	m.mu.Lock()
	t := m.finished
	runners := make([]*Runner, 0, len(m.sessions))
	for _, ls := range m.sessions {
		runners = append(runners, ls.runner)
	}
	m.mu.Unlock()

	t.ActiveSessions = len(runners)
	for _, r := range runners {
		t.Stats = t.Stats.Add(r.Stats())
		t.RepsCounted += uint64(r.Snapshot().State.Reps)
	}
	return t
}

// Subscribe returns a channel of snapshots published on every state change,
// start and stop. Slow subscribers miss updates rather than block sessions.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.subMu.Unlock()
	}
}

func (m *Manager) publish(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			m.log.Debug("session subscriber full, dropping update", "user_id", snap.UserID)
		}
	}
}

// Shutdown stops every running session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(id); err != nil && !errors.Is(err, ErrNoSession) {
			m.log.Warn("stopping session", "user_id", id, "error", err)
		}
	}
	m.stop()
}
