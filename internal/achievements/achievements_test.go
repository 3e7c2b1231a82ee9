package achievements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/rehabai/internal/models"
)

func TestRegistryReturnsShallowCopy(t *testing.T) {
	e := NewEngine()
	r := e.Registry()
	r[0].Name = "mutated"
	assert.NotEqual(t, "mutated", e.Registry()[0].Name)
}

func TestRegistryUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, b := range NewEngine().Registry() {
		require.NotEmpty(t, b.Name)
		require.NotNil(t, b.Condition, b.Name)
		assert.False(t, seen[b.Name], "duplicate badge %q", b.Name)
		seen[b.Name] = true
	}
}

func TestEvaluateZeroStatsNoBadges(t *testing.T) {
	assert.Empty(t, NewEngine().Evaluate(models.UserStats{}, nil))
}

func TestEvaluateFirstSession(t *testing.T) {
	earned := NewEngine().Evaluate(models.UserStats{TotalSessions: 1, TotalReps: 8, BestSessionReps: 8, PainFreeStreak: 1, DistinctExercises: 1, DayStreak: 1}, nil)
	assert.Equal(t, []string{"First Steps"}, earned)
}

func TestEvaluateSkipsHeld(t *testing.T) {
	stats := models.UserStats{TotalSessions: 12, TotalReps: 150}
	e := NewEngine()

	first := e.Evaluate(stats, nil)
	assert.Equal(t, []string{"First Steps", "Consistent", "Century"}, first)

	again := e.Evaluate(stats, first)
	assert.Empty(t, again)
}

func TestEvaluateThresholds(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		badge string
		below models.UserStats
		at    models.UserStats
	}{
		{"Pain Free", models.UserStats{PainFreeStreak: 4}, models.UserStats{PainFreeStreak: 5}},
		{"Perfect Form", models.UserStats{BestQuality: 94.9}, models.UserStats{BestQuality: 95}},
		{"Full Set", models.UserStats{BestSessionReps: 19}, models.UserStats{BestSessionReps: 20}},
		{"Well Rounded", models.UserStats{DistinctExercises: 2}, models.UserStats{DistinctExercises: 3}},
		{"Week Warrior", models.UserStats{DayStreak: 6}, models.UserStats{DayStreak: 7}},
		{"Thousand Club", models.UserStats{TotalReps: 999}, models.UserStats{TotalReps: 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.badge, func(t *testing.T) {
			b, ok := e.Lookup(tt.badge)
			require.True(t, ok)
			assert.False(t, b.Condition(tt.below))
			assert.True(t, b.Condition(tt.at))
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, ok := NewEngine().Lookup("Nope")
	assert.False(t, ok)
}
