package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/models"
)

type fakeStore struct {
	logs      []models.ExerciseLog
	badges    []models.Achievement
	insertErr error
	statsErr  error
}

// InsertExerciseLogs mirrors the unique session_id index.
func (f *fakeStore) InsertExerciseLogs(_ context.Context, rows []models.ExerciseLog) ([]models.ExerciseLog, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	var out []models.ExerciseLog
	for _, r := range rows {
		if r.SessionID != nil && f.hasSession(*r.SessionID) {
			continue
		}
		f.logs = append(f.logs, r)
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) hasSession(id uuid.UUID) bool {
	for _, l := range f.logs {
		if l.SessionID != nil && *l.SessionID == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) ExerciseLogsBySession(_ context.Context, userID int, ids []uuid.UUID) ([]models.ExerciseLog, error) {
	var out []models.ExerciseLog
	for _, l := range f.logs {
		if l.UserID != userID || l.SessionID == nil {
			continue
		}
		for _, id := range ids {
			if *l.SessionID == id {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserStats(_ context.Context, userID int) (models.UserStats, error) {
	if f.statsErr != nil {
		return models.UserStats{}, f.statsErr
	}
	var s models.UserStats
	for _, l := range f.logs {
		if l.UserID != userID {
			continue
		}
		s.TotalSessions++
		s.TotalReps += int64(l.Reps)
	}
	return s, nil
}

func (f *fakeStore) QueryAchievements(_ context.Context, userID int) ([]models.Achievement, error) {
	var out []models.Achievement
	for _, a := range f.badges {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAchievements(_ context.Context, userID int, badges []string) ([]models.Achievement, error) {
	var out []models.Achievement
	for _, b := range badges {
		a := models.Achievement{ID: len(f.badges) + 1, UserID: userID, BadgeName: b, EarnedAt: time.Now()}
		f.badges = append(f.badges, a)
		out = append(out, a)
	}
	return out, nil
}

func newTestProvider(store Store) *Provider {
	p := NewProvider(store, achievements.NewEngine(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestIngestStoresAndAwards(t *testing.T) {
	store := &fakeStore{}
	p := newTestProvider(store)

	res, err := p.Ingest(context.Background(), 3, "api", []models.ExerciseLogInput{
		{ExerciseType: "Bicep Curl", Reps: 12, QualityScore: 80},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.LogsReceived)
	assert.EqualValues(t, 1, res.LogsInserted)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, models.ExerciseBicepCurl, res.Logs[0].ExerciseType)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), res.Logs[0].Date)
	require.Len(t, res.Achievements, 1)
	assert.Equal(t, "First Steps", res.Achievements[0].BadgeName)

	// Second log does not re-award First Steps.
	res, err = p.Ingest(context.Background(), 3, "api", []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 5, QualityScore: 70},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Achievements)
	assert.Len(t, store.badges, 1)
}

func TestIngestEmpty(t *testing.T) {
	res, err := newTestProvider(&fakeStore{}).Ingest(context.Background(), 1, "api", nil)
	require.NoError(t, err)
	assert.Zero(t, res.LogsReceived)
	assert.Zero(t, res.LogsInserted)
}

func TestIngestInsertError(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	_, err := newTestProvider(store).Ingest(context.Background(), 1, "api", []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIngestAchievementFailureDoesNotFail(t *testing.T) {
	store := &fakeStore{statsErr: errors.New("stats broke")}
	res, err := newTestProvider(store).Ingest(context.Background(), 1, "api", []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 1},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.LogsInserted)
	assert.Empty(t, res.Achievements)
}

func TestIngestCountsSkippedDuplicates(t *testing.T) {
	stored := models.ExerciseLog{
		ID: uuid.New(), UserID: 1, ExerciseType: "bicep_curl", Reps: 4, Source: "replay",
		SessionID: ptrUUID("6b1f4d3e-6f3e-4c4b-9d55-2f0cbbd1f001"),
	}
	store := &fakeStore{logs: []models.ExerciseLog{stored}}
	in := []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 4, SessionID: ptrUUID("6b1f4d3e-6f3e-4c4b-9d55-2f0cbbd1f001")},
		{ExerciseType: "curl", Reps: 6, SessionID: ptrUUID("6b1f4d3e-6f3e-4c4b-9d55-2f0cbbd1f002")},
	}

	res, err := newTestProvider(store).Ingest(context.Background(), 1, "replay", in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.LogsReceived)
	assert.EqualValues(t, 1, res.LogsInserted)
	assert.EqualValues(t, 1, res.LogsSkipped)
	require.Len(t, res.Logs, 2)
	assert.Equal(t, stored.ID, res.Logs[0].ID)
	assert.Equal(t, "replay", res.Logs[1].Source)
	assert.EqualValues(t, 6, res.Logs[1].Reps)
}

func TestIngestDuplicateReturnsStoredRow(t *testing.T) {
	sid := ptrUUID("0f3a9c1e-2b7d-4e5f-8a90-1c2d3e4f5a6b")
	stored := models.ExerciseLog{ID: uuid.New(), UserID: 5, ExerciseType: "bicep_curl", Reps: 10, SessionID: sid}
	store := &fakeStore{logs: []models.ExerciseLog{stored}}

	res, err := newTestProvider(store).Ingest(context.Background(), 5, "api", []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 99, SessionID: sid},
	})
	require.NoError(t, err)
	assert.Zero(t, res.LogsInserted)
	assert.EqualValues(t, 1, res.LogsSkipped)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, stored.ID, res.Logs[0].ID)
	assert.EqualValues(t, 10, res.Logs[0].Reps)
	assert.Len(t, store.logs, 1)
	assert.Empty(t, res.Achievements)
}

func TestIngestDuplicateOfOtherUserNotReturned(t *testing.T) {
	sid := ptrUUID("0f3a9c1e-2b7d-4e5f-8a90-1c2d3e4f5a6c")
	store := &fakeStore{logs: []models.ExerciseLog{{ID: uuid.New(), UserID: 7, Reps: 3, SessionID: sid}}}

	res, err := newTestProvider(store).Ingest(context.Background(), 5, "api", []models.ExerciseLogInput{
		{ExerciseType: "curl", Reps: 1, SessionID: sid},
	})
	require.NoError(t, err)
	assert.Zero(t, res.LogsInserted)
	assert.Empty(t, res.Logs)
}

func ptrUUID(s string) *uuid.UUID {
	id := uuid.MustParse(s)
	return &id
}
