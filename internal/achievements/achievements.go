// Package achievements defines the badges patients earn from their exercise
// history and decides which ones a new log unlocks.
package achievements

import "github.com/claude/rehabai/internal/models"

// Tier represents a badge's difficulty level.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Badge describes a single unlockable goal.
type Badge struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tier        Tier   `json:"tier"`
	// Condition reports whether the badge should be awarded for stats.
	Condition func(models.UserStats) bool `json:"-"`
}

// Engine holds the badge registry.
type Engine struct {
	registry []Badge
}

// NewEngine creates an engine pre-loaded with the full badge set.
func NewEngine() *Engine {
	return &Engine{registry: buildRegistry()}
}

// Registry returns a shallow copy of all registered badges.
func (e *Engine) Registry() []Badge {
	out := make([]Badge, len(e.registry))
	copy(out, e.registry)
	return out
}

// Lookup returns the badge with the given name.
func (e *Engine) Lookup(name string) (Badge, bool) {
	for _, b := range e.registry {
		if b.Name == name {
			return b, true
		}
	}
	return Badge{}, false
}

// Evaluate returns the names of badges whose condition holds for stats and
// that are not already held. Order follows the registry.
func (e *Engine) Evaluate(stats models.UserStats, held []string) []string {
	have := make(map[string]struct{}, len(held))
	for _, h := range held {
		have[h] = struct{}{}
	}
	var earned []string
	for _, b := range e.registry {
		if _, ok := have[b.Name]; ok {
			continue
		}
		if b.Condition(stats) {
			earned = append(earned, b.Name)
		}
	}
	return earned
}

func buildRegistry() []Badge {
	return []Badge{
		// Sessions
		{
			Name:        "First Steps",
			Description: "Log your first exercise session",
			Tier:        TierBronze,
			Condition:   func(s models.UserStats) bool { return s.TotalSessions >= 1 },
		},
		{
			Name:        "Consistent",
			Description: "Log 10 exercise sessions",
			Tier:        TierSilver,
			Condition:   func(s models.UserStats) bool { return s.TotalSessions >= 10 },
		},
		{
			Name:        "Dedicated",
			Description: "Log 50 exercise sessions",
			Tier:        TierGold,
			Condition:   func(s models.UserStats) bool { return s.TotalSessions >= 50 },
		},

		// Volume
		{
			Name:        "Century",
			Description: "Complete 100 reps in total",
			Tier:        TierBronze,
			Condition:   func(s models.UserStats) bool { return s.TotalReps >= 100 },
		},
		{
			Name:        "Thousand Club",
			Description: "Complete 1000 reps in total",
			Tier:        TierGold,
			Condition:   func(s models.UserStats) bool { return s.TotalReps >= 1000 },
		},
		{
			Name:        "Full Set",
			Description: "Complete 20 reps in a single session",
			Tier:        TierSilver,
			Condition:   func(s models.UserStats) bool { return s.BestSessionReps >= 20 },
		},

		// Form and recovery
		{
			Name:        "Perfect Form",
			Description: "Score a session quality of 95 or higher",
			Tier:        TierSilver,
			Condition:   func(s models.UserStats) bool { return s.BestQuality >= 95 },
		},
		{
			Name:        "Pain Free",
			Description: "Log 5 sessions in a row without pain",
			Tier:        TierSilver,
			Condition:   func(s models.UserStats) bool { return s.PainFreeStreak >= 5 },
		},
		{
			Name:        "Well Rounded",
			Description: "Log sessions for 3 different exercises",
			Tier:        TierBronze,
			Condition:   func(s models.UserStats) bool { return s.DistinctExercises >= 3 },
		},

		// Streaks
		{
			Name:        "Three Day Streak",
			Description: "Exercise on 3 consecutive days",
			Tier:        TierBronze,
			Condition:   func(s models.UserStats) bool { return s.DayStreak >= 3 },
		},
		{
			Name:        "Week Warrior",
			Description: "Exercise on 7 consecutive days",
			Tier:        TierGold,
			Condition:   func(s models.UserStats) bool { return s.DayStreak >= 7 },
		},
	}
}
