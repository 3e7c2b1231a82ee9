// Package repcount turns per-tick joint angles into exercise repetitions.
//
// The counter is a two-threshold hysteresis: an angle above ExtendAbove
// primes it, and a following angle below FlexBelow counts one repetition and
// clears the prime. Ticks with missing or low-confidence keypoints carry no
// information and leave the state untouched.
package repcount

import (
	"math"

	"github.com/claude/rehabai/internal/pose"
)

// Phase is the counter's view of the tracked limb.
type Phase string

const (
	// PhaseAwaitingExtension means the limb has not been seen fully extended
	// since the last counted repetition.
	PhaseAwaitingExtension Phase = "awaiting_extension"
	// PhaseExtended means a full extension was seen; the next full flexion counts.
	PhaseExtended Phase = "extended"
)

// State is everything the counter carries between ticks.
type State struct {
	Reps uint `json:"reps"`
	// Primed is set on full extension and cleared by the counted flexion.
	Primed bool `json:"primed"`
}

// Phase reports the limb classification implied by the state.
func (s State) Phase() Phase {
	if s.Primed {
		return PhaseExtended
	}
	return PhaseAwaitingExtension
}

// Angle returns the joint angle in degrees at the exercise's vertex keypoint.
// ok is false when any keypoint is missing or at or below the confidence floor.
func Angle(ex Exercise, p *pose.Pose) (deg float64, ok bool) {
	if p == nil {
		return 0, false
	}
	prox, ok1 := p.Keypoint(ex.Proximal)
	vert, ok2 := p.Keypoint(ex.Vertex)
	dist, ok3 := p.Keypoint(ex.Distal)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	if prox.Score <= ex.MinScore || vert.Score <= ex.MinScore || dist.Score <= ex.MinScore {
		return 0, false
	}

	rad := math.Atan2(dist.Y-vert.Y, dist.X-vert.X) - math.Atan2(prox.Y-vert.Y, prox.X-vert.X)
	deg = math.Abs(rad * 180 / math.Pi)
	if ex.AngleMode != AngleRaw && deg > 180 {
		deg = 360 - deg
	}
	return deg, true
}

// Update applies one sampling tick to the state and returns the new state.
// It is pure: the same inputs always yield the same output.
func Update(ex Exercise, p *pose.Pose, s State) State {
	deg, ok := Angle(ex, p)
	if !ok {
		return s
	}
	return Step(ex, deg, s)
}

// Step applies the hysteresis band to an already computed angle.
func Step(ex Exercise, deg float64, s State) State {
	if deg > ex.ExtendAbove && !s.Primed {
		s.Primed = true
	}
	if deg < ex.FlexBelow && s.Primed {
		s.Reps++
		s.Primed = false
	}
	return s
}
