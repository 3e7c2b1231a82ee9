package repcount

import (
	"fmt"
	"strings"

	"github.com/claude/rehabai/internal/pose"
)

// AngleMode selects how the raw atan2 difference is turned into a joint angle.
type AngleMode string

const (
	// AngleNormalized folds the magnitude into [0, 180].
	AngleNormalized AngleMode = "normalized"
	// AngleRaw keeps |atan2(d) - atan2(p)| in degrees, range [0, 360).
	AngleRaw AngleMode = "raw"
)

// Side is the tracked body side.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Default thresholds for an elbow curl.
const (
	DefaultExtendAbove = 160.0
	DefaultFlexBelow   = 60.0
	DefaultMinScore    = 0.5
)

// Exercise describes which joint to measure and the hysteresis band that
// turns the joint angle into repetitions.
type Exercise struct {
	Name string `json:"name" yaml:"name" toml:"name"`

	// Proximal, Vertex and Distal name the keypoints forming the angle; the
	// angle is measured at Vertex.
	Proximal string `json:"proximal" yaml:"proximal" toml:"proximal"`
	Vertex   string `json:"vertex" yaml:"vertex" toml:"vertex"`
	Distal   string `json:"distal" yaml:"distal" toml:"distal"`

	// ExtendAbove primes the counter; FlexBelow completes a repetition.
	ExtendAbove float64 `json:"extend_above" yaml:"extend_above" toml:"extend_above"`
	FlexBelow   float64 `json:"flex_below" yaml:"flex_below" toml:"flex_below"`

	// MinScore is the exclusive confidence floor for each of the three keypoints.
	MinScore float64 `json:"min_score" yaml:"min_score" toml:"min_score"`

	AngleMode AngleMode `json:"angle_mode" yaml:"angle_mode" toml:"angle_mode"`
}

// BicepCurl returns the elbow-curl definition for the given side.
func BicepCurl(side Side) Exercise {
	shoulder, elbow, wrist := pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist
	if side == SideRight {
		shoulder, elbow, wrist = pose.RightShoulder, pose.RightElbow, pose.RightWrist
	}
	return Exercise{
		Name:        "bicep_curl",
		Proximal:    shoulder,
		Vertex:      elbow,
		Distal:      wrist,
		ExtendAbove: DefaultExtendAbove,
		FlexBelow:   DefaultFlexBelow,
		MinScore:    DefaultMinScore,
		AngleMode:   AngleNormalized,
	}
}

// WithDefaults fills zero-valued thresholds and mode. A zero MinScore counts
// as unset; set it after WithDefaults to accept any positive score.
func (e Exercise) WithDefaults() Exercise {
	if e.ExtendAbove == 0 {
		e.ExtendAbove = DefaultExtendAbove
	}
	if e.FlexBelow == 0 {
		e.FlexBelow = DefaultFlexBelow
	}
	if e.MinScore == 0 {
		e.MinScore = DefaultMinScore
	}
	if e.AngleMode == "" {
		e.AngleMode = AngleNormalized
	}
	return e
}

// Validate reports definitions that could never count a repetition.
func (e Exercise) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("exercise name is required")
	}
	if e.Proximal == "" || e.Vertex == "" || e.Distal == "" {
		return fmt.Errorf("exercise %s: proximal, vertex and distal keypoints are required", e.Name)
	}
	if e.FlexBelow >= e.ExtendAbove {
		return fmt.Errorf("exercise %s: flex_below (%.1f) must be below extend_above (%.1f)", e.Name, e.FlexBelow, e.ExtendAbove)
	}
	if e.MinScore < 0 || e.MinScore >= 1 {
		return fmt.Errorf("exercise %s: min_score must be in [0, 1)", e.Name)
	}
	switch e.AngleMode {
	case AngleNormalized, AngleRaw:
	default:
		return fmt.Errorf("exercise %s: unknown angle_mode %q", e.Name, e.AngleMode)
	}
	return nil
}
