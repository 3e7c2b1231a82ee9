package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/tailcfg"

	"github.com/claude/rehabai/internal/config"
	"github.com/claude/rehabai/internal/ingest"
	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/session"
	"github.com/claude/rehabai/internal/storage"
)

// fakeStore is an in-memory Store seeded with two patients and a clinician.
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]models.User
	nextID     int
	logs       map[int][]models.ExerciseLog
	importLogs []storage.ImportLog
}

func newFakeStore() *fakeStore {
	st := &fakeStore{
		users:  make(map[string]models.User),
		logs:   make(map[int][]models.ExerciseLog),
		nextID: 1,
	}
	for _, login := range []string{"pat@example.com", "other@example.com"} {
		st.GetOrCreateUser(context.Background(), login, login, models.RolePatient)
	}
	st.GetOrCreateUser(context.Background(), "dr@example.com", "Dr", models.RoleClinician)
	st.logs[2] = []models.ExerciseLog{{UserID: 2, ExerciseType: "bicep_curl", Reps: 8, QualityScore: 70}}
	return st
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, login, display string, role models.Role) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[login]
	if !ok {
		u = models.User{ID: f.nextID, Login: login, DisplayName: display}
		f.nextID++
	}
	if display != "" {
		u.DisplayName = display
	}
	u.Role = role
	f.users[login] = u
	return u, nil
}

func (f *fakeStore) GetUser(_ context.Context, id int) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("getting user %d: %w", id, storage.ErrNotFound)
}

func (f *fakeStore) ListPatients(context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if u.Role == models.RolePatient {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) QueryExerciseLogs(_ context.Context, userID int, _ storage.LogFilter) ([]models.ExerciseLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[userID], nil
}

func (f *fakeStore) GetPatientReport(_ context.Context, userID int) ([]models.ReportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byType := map[string]*models.ReportRow{}
	var out []models.ReportRow
	for _, l := range f.logs[userID] {
		row, ok := byType[l.ExerciseType]
		if !ok {
			row = &models.ReportRow{ExerciseType: l.ExerciseType}
			byType[l.ExerciseType] = row
		}
		row.TotalReps += int64(l.Reps)
		row.TotalSessions++
	}
	for _, row := range byType {
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeStore) GetProgressTrend(context.Context, int, time.Time, time.Time, string) ([]storage.TrendPoint, error) {
	return nil, nil
}

func (f *fakeStore) QueryAchievements(_ context.Context, userID int) ([]models.Achievement, error) {
	return []models.Achievement{{UserID: userID, BadgeName: "First Steps"}}, nil
}

func (f *fakeStore) InsertImportLog(_ context.Context, l storage.ImportLog) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importLogs = append(f.importLogs, l)
	return int64(len(f.importLogs)), nil
}

func (f *fakeStore) QueryImportLogs(_ context.Context, userID, _ int) ([]storage.ImportLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ImportLog
	for _, l := range f.importLogs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakeIngester records what was ingested and stores rows in the fake store.
type fakeIngester struct {
	store *fakeStore
	mu    sync.Mutex
	calls []ingestCall
	err   error
}

type ingestCall struct {
	userID int
	source string
	logs   []models.ExerciseLogInput
}

func (f *fakeIngester) Ingest(_ context.Context, userID int, source string, logs []models.ExerciseLogInput) (*ingest.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ingestCall{userID, source, logs})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	res := &ingest.Result{LogsReceived: len(logs)}
	now := time.Now()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, in := range logs {
		row := in.Row(userID, source, now)
		if existing, owner, ok := f.store.sessionLog(row.SessionID); ok {
			res.LogsSkipped++
			if owner == userID {
				res.Logs = append(res.Logs, existing)
			}
			continue
		}
		res.Logs = append(res.Logs, row)
		res.LogsInserted++
		f.store.logs[userID] = append(f.store.logs[userID], row)
	}
	return res, nil
}

// sessionLog finds a stored log by session ID. Callers hold f.mu.
func (f *fakeStore) sessionLog(id *uuid.UUID) (models.ExerciseLog, int, bool) {
	if id == nil {
		return models.ExerciseLog{}, 0, false
	}
	for owner, logs := range f.logs {
		for _, l := range logs {
			if l.SessionID != nil && *l.SessionID == *id {
				return l, owner, true
			}
		}
	}
	return models.ExerciseLog{}, 0, false
}

// fakeWhoIs maps remote addresses to tailnet logins.
type fakeWhoIs map[string]string

func (f fakeWhoIs) WhoIs(_ context.Context, addr string) (*apitype.WhoIsResponse, error) {
	login, ok := f[addr]
	if !ok {
		return nil, errors.New("no such peer")
	}
	return &apitype.WhoIsResponse{
		UserProfile: &tailcfg.UserProfile{LoginName: login, DisplayName: strings.Split(login, "@")[0]},
	}, nil
}

const (
	patientAddr   = "100.64.0.1:4000"
	otherAddr     = "100.64.0.2:4000"
	clinicianAddr = "100.64.0.9:4000"
)

type testEnv struct {
	srv      *Server
	store    *fakeStore
	ingester *fakeIngester
	sessions *session.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv builds a Server whose callers are identified by remote address.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := newFakeStore()
	ing := &fakeIngester{store: st}
	mgr := session.NewManager(session.ManagerConfig{Period: 10 * time.Millisecond}, nil, discardLogger())
	t.Cleanup(mgr.Shutdown)

	srv := New(st, ing, mgr, Options{
		Auth: config.AuthConfig{
			APIKey:     "secret",
			Clinicians: []string{"dr@example.com"},
			DevLogin:   "local",
		},
	}, discardLogger())
	srv.SetTailscale(fakeWhoIs{
		patientAddr:   "pat@example.com",
		otherAddr:     "other@example.com",
		clinicianAddr: "dr@example.com",
	})
	return &testEnv{srv: srv, store: st, ingester: ing, sessions: mgr}
}

func (e *testEnv) do(method, path, addr string, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}
