package repcount

import "github.com/claude/rehabai/internal/pose"

// Counter holds a State for one session. It is not safe for concurrent use.
type Counter struct {
	exercise Exercise
	state    State

	observed  int
	confident int
	lastAngle float64
}

// NewCounter creates a Counter for ex starting from the zero state.
func NewCounter(ex Exercise) *Counter {
	return &Counter{exercise: ex.WithDefaults()}
}

// Exercise returns the definition the counter applies.
func (c *Counter) Exercise() Exercise { return c.exercise }

// State returns the current state.
func (c *Counter) State() State { return c.state }

// Observe applies one tick and reports whether the state changed.
func (c *Counter) Observe(p *pose.Pose) (State, bool) {
	c.observed++
	deg, ok := Angle(c.exercise, p)
	if !ok {
		return c.state, false
	}
	c.confident++
	c.lastAngle = deg

	next := Step(c.exercise, deg, c.state)
	changed := next != c.state
	c.state = next
	return next, changed
}

// Restore replaces the state, e.g. after resuming a serialized session.
func (c *Counter) Restore(s State) { c.state = s }

// Reset starts a new session with the same exercise.
func (c *Counter) Reset() {
	c.state = State{}
	c.observed = 0
	c.confident = 0
	c.lastAngle = 0
}

// LastAngle is the most recent confident joint angle, in degrees.
func (c *Counter) LastAngle() float64 { return c.lastAngle }

// Coverage is the fraction of observed ticks whose keypoints were confident.
func (c *Counter) Coverage() float64 {
	if c.observed == 0 {
		return 0
	}
	return float64(c.confident) / float64(c.observed)
}

// Ticks returns the number of observed and confident ticks.
func (c *Counter) Ticks() (observed, confident int) {
	return c.observed, c.confident
}
