// Package pose defines the keypoint data produced by an external pose
// estimation model and the adapters used to obtain it.
package pose

import (
	"context"
	"time"
)

// MoveNet keypoint names used by the built-in exercises.
const (
	LeftShoulder  = "left_shoulder"
	LeftElbow     = "left_elbow"
	LeftWrist     = "left_wrist"
	RightShoulder = "right_shoulder"
	RightElbow    = "right_elbow"
	RightWrist    = "right_wrist"
)

// Keypoint is a named anatomical landmark in pixel coordinates.
type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Pose is the set of keypoints for one detected body in one frame.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints"`
}

// Keypoint returns the first keypoint with the given name.
func (p *Pose) Keypoint(name string) (Keypoint, bool) {
	if p == nil {
		return Keypoint{}, false
	}
	for _, k := range p.Keypoints {
		if k.Name == name {
			return k, true
		}
	}
	return Keypoint{}, false
}

// FirstPose returns the tracked body for a tick, or nil when nothing was detected.
func FirstPose(poses []Pose) *Pose {
	if len(poses) == 0 {
		return nil
	}
	return &poses[0]
}

// Frame is one captured video frame handed to a Source.
type Frame struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
	CapturedAt  time.Time
}

// Source estimates poses for a frame. Implementations may take tens of
// milliseconds; callers treat any error as "no pose this tick".
type Source interface {
	Estimate(ctx context.Context, frame Frame) ([]Pose, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, frame Frame) ([]Pose, error)

// Estimate implements Source.
func (f SourceFunc) Estimate(ctx context.Context, frame Frame) ([]Pose, error) {
	return f(ctx, frame)
}
