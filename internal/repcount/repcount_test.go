package repcount

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/claude/rehabai/internal/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// armAt builds a left-arm pose whose elbow angle is deg degrees.
func armAt(deg float64) *pose.Pose {
	return armWithScores(deg, 1, 1, 1)
}

func armWithScores(deg, shoulderScore, elbowScore, wristScore float64) *pose.Pose {
	rad := deg * math.Pi / 180
	return &pose.Pose{Keypoints: []pose.Keypoint{
		{Name: pose.LeftShoulder, X: 100, Y: 0, Score: shoulderScore},
		{Name: pose.LeftElbow, X: 0, Y: 0, Score: elbowScore},
		{Name: pose.LeftWrist, X: 100 * math.Cos(rad), Y: 100 * math.Sin(rad), Score: wristScore},
	}}
}

func run(ex Exercise, s State, angles ...float64) State {
	for _, a := range angles {
		s = Update(ex, armAt(a), s)
	}
	return s
}

func TestAngleRightAngleFixture(t *testing.T) {
	p := &pose.Pose{Keypoints: []pose.Keypoint{
		{Name: pose.LeftShoulder, X: 0, Y: 0, Score: 1},
		{Name: pose.LeftElbow, X: 1, Y: 0, Score: 1},
		{Name: pose.LeftWrist, X: 1, Y: 1, Score: 1},
	}}
	for _, mode := range []AngleMode{AngleNormalized, AngleRaw} {
		ex := BicepCurl(SideLeft)
		ex.AngleMode = mode
		deg, ok := Angle(ex, p)
		require.True(t, ok)
		assert.InDelta(t, 90.0, deg, 1e-9, "mode %s", mode)
	}
}

func TestAngleModesDifferNearWrap(t *testing.T) {
	// Shoulder direction at -170 degrees, wrist direction at +170 degrees.
	s := -170 * math.Pi / 180
	w := 170 * math.Pi / 180
	p := &pose.Pose{Keypoints: []pose.Keypoint{
		{Name: pose.LeftShoulder, X: math.Cos(s), Y: math.Sin(s), Score: 1},
		{Name: pose.LeftElbow, X: 0, Y: 0, Score: 1},
		{Name: pose.LeftWrist, X: math.Cos(w), Y: math.Sin(w), Score: 1},
	}}

	raw := BicepCurl(SideLeft)
	raw.AngleMode = AngleRaw
	deg, ok := Angle(raw, p)
	require.True(t, ok)
	assert.InDelta(t, 340.0, deg, 1e-6)

	deg, ok = Angle(BicepCurl(SideLeft), p)
	require.True(t, ok)
	assert.InDelta(t, 20.0, deg, 1e-6)
}

func TestLowConfidenceIsNoOp(t *testing.T) {
	ex := BicepCurl(SideLeft)
	primed := State{Reps: 3, Primed: true}

	cases := map[string]*pose.Pose{
		"nil pose":          nil,
		"empty pose":        {},
		"shoulder at floor": armWithScores(30, 0.5, 1, 1),
		"elbow low":         armWithScores(30, 1, 0.2, 1),
		"wrist low":         armWithScores(30, 1, 1, 0.49),
		"missing wrist": {Keypoints: []pose.Keypoint{
			{Name: pose.LeftShoulder, Score: 1},
			{Name: pose.LeftElbow, X: 1, Score: 1},
		}},
		"right arm only": {Keypoints: []pose.Keypoint{
			{Name: pose.RightShoulder, X: 100, Score: 1},
			{Name: pose.RightElbow, Score: 1},
			{Name: pose.RightWrist, X: 10, Y: 10, Score: 1},
		}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, primed, Update(ex, p, primed))
			assert.Equal(t, State{}, Update(ex, p, State{}))
		})
	}
}

func TestFullCycleCountsOnce(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := run(ex, State{}, 170, 150, 40, 170)
	assert.Equal(t, uint(1), s.Reps)
	assert.True(t, s.Primed, "final extension primes the next repetition")
}

func TestOscillationCountsPerCycle(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := State{}
	for i := 0; i < 5; i++ {
		s = run(ex, s, 170, 40)
	}
	assert.Equal(t, uint(5), s.Reps)

	// Holding the flexed position does not add more.
	s = run(ex, s, 40, 35, 30)
	assert.Equal(t, uint(5), s.Reps)
}

func TestNoExtensionNoCount(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := run(ex, State{}, 150, 120, 90, 40, 20, 155, 30)
	assert.Equal(t, State{}, s)
}

func TestHoldingExtensionIsIdempotent(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := run(ex, State{}, 170, 175, 179)
	assert.Equal(t, State{Primed: true}, s)
	s = run(ex, s, 40)
	assert.Equal(t, State{Reps: 1}, s)
}

func TestThresholdsAreExclusive(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := Step(ex, 160, State{})
	assert.False(t, s.Primed)
	s = Step(ex, 160.1, s)
	s = Step(ex, 60, s)
	assert.Equal(t, State{Primed: true}, s)
	s = Step(ex, 59.9, s)
	assert.Equal(t, State{Reps: 1}, s)
}

func TestRepsNeverDecrease(t *testing.T) {
	ex := BicepCurl(SideLeft)
	s := State{}
	prev := uint(0)
	for _, a := range []float64{170, 40, 90, 100, 170, 170, 20, 10, 165, 59, 0, 180} {
		s = Update(ex, armAt(a), s)
		require.GreaterOrEqual(t, s.Reps, prev)
		prev = s.Reps
	}
	assert.Equal(t, uint(3), s.Reps)
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, in := range []State{{}, {Reps: 12, Primed: true}, {Reps: 7}} {
		data, err := json.Marshal(in)
		require.NoError(t, err)
		var out State
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	}
	data, _ := json.Marshal(State{Reps: 2, Primed: true})
	assert.JSONEq(t, `{"reps":2,"primed":true}`, string(data))
}

func TestPhase(t *testing.T) {
	assert.Equal(t, PhaseAwaitingExtension, State{}.Phase())
	assert.Equal(t, PhaseExtended, State{Primed: true}.Phase())
}

func TestRightSideDefinition(t *testing.T) {
	ex := BicepCurl(SideRight)
	assert.Equal(t, pose.RightElbow, ex.Vertex)
	require.NoError(t, ex.Validate())
}

func TestExerciseValidate(t *testing.T) {
	ok := BicepCurl(SideLeft)
	require.NoError(t, ok.Validate())

	inverted := ok
	inverted.FlexBelow, inverted.ExtendAbove = 160, 60
	assert.Error(t, inverted.Validate())

	noName := ok
	noName.Name = " "
	assert.Error(t, noName.Validate())

	badMode := ok
	badMode.AngleMode = "radians"
	assert.Error(t, badMode.Validate())

	partial := Exercise{Name: "knee_extension", Vertex: "left_knee"}.WithDefaults()
	assert.Error(t, partial.Validate())
}

func TestCounterTracksCoverage(t *testing.T) {
	c := NewCounter(BicepCurl(SideLeft))

	_, changed := c.Observe(nil)
	assert.False(t, changed)

	_, changed = c.Observe(armAt(170))
	assert.True(t, changed)

	_, changed = c.Observe(armAt(175))
	assert.False(t, changed)

	s, changed := c.Observe(armAt(30))
	assert.True(t, changed)
	assert.Equal(t, uint(1), s.Reps)
	assert.InDelta(t, 30.0, c.LastAngle(), 1e-9)

	observed, confident := c.Ticks()
	assert.Equal(t, 4, observed)
	assert.Equal(t, 3, confident)
	assert.InDelta(t, 0.75, c.Coverage(), 1e-9)

	c.Reset()
	assert.Equal(t, State{}, c.State())
	assert.Zero(t, c.Coverage())
}
