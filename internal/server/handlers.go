package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/storage"
)

const maxLogBody = 1 << 20

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleExerciseTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Exercises())
}

func (s *Server) handleLogExercise(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLogBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body: " + err.Error()})
		return
	}
	in, err := models.DecodeExerciseLog(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := s.ingester.Ingest(r.Context(), uid, "api", []models.ExerciseLogInput{in})
	if err != nil {
		s.log.Error("log exercise", "user_id", uid, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if len(result.Logs) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session_id already in use"})
		return
	}
	status := http.StatusCreated
	if result.LogsInserted == 0 {
		// Replayed session_id: the row already exists.
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"log":          result.Logs[0],
		"achievements": result.Achievements,
	})
}

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.targetUser(w, r)
	if !ok {
		return
	}

	var f storage.LogFilter
	q := r.URL.Query()
	var err error
	if v := q.Get("start"); v != "" {
		if f.Start, err = parseTime(v, false); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start: " + err.Error()})
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if f.End, err = parseTime(v, true); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end: " + err.Error()})
			return
		}
	}
	f.ExerciseType = q.Get("type")
	f.Limit = queryInt(r, "limit", 0)

	logs, err := s.db.QueryExerciseLogs(r.Context(), uid, f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.ExerciseLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleProgressTrend(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.targetUser(w, r)
	if !ok {
		return
	}

	start, end, err := parseTimeRange(r, 90)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	bucket := r.URL.Query().Get("bucket")
	switch bucket {
	case "":
		bucket = "week"
	case "day", "week", "month":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket must be day, week or month"})
		return
	}

	points, err := s.db.GetProgressTrend(r.Context(), uid, start, end, bucket)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if points == nil {
		points = []storage.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
			return
		}
		if id != uid && !userInfoFromContext(r).Clinician() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authorized"})
			return
		}
		uid = id
	}

	badges, err := s.db.QueryAchievements(r.Context(), uid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if badges == nil {
		badges = []models.Achievement{}
	}
	writeJSON(w, http.StatusOK, badges)
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.db.ListPatients(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if patients == nil {
		patients = []models.User{}
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	user, ok := s.lookupUser(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePatientReport(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	user, ok := s.lookupUser(w, r, id)
	if !ok {
		return
	}

	rows, err := s.db.GetPatientReport(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []models.ReportRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patient":   user,
		"exercises": rows,
	})
}

// targetUser resolves the {userID} path parameter and checks the caller may
// read that user's data: patients only their own, clinicians anyone known.
func (s *Server) targetUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	caller, ok := mustUserID(w, r)
	if !ok {
		return 0, false
	}
	id, ok := userIDParam(w, r)
	if !ok {
		return 0, false
	}
	if id == caller {
		return id, true
	}
	if !userInfoFromContext(r).Clinician() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authorized"})
		return 0, false
	}
	if _, ok := s.lookupUser(w, r, id); !ok {
		return 0, false
	}
	return id, true
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request, id int) (models.User, bool) {
	user, err := s.db.GetUser(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("user %d not found", id)})
		return user, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return user, false
	}
	return user, true
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user ID"})
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseTime(v string, end bool) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24 * time.Hour)
	}
	return t, nil
}

// parseTimeRange reads start/end, defaulting to the last defaultDays days.
func parseTimeRange(r *http.Request, defaultDays int) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	end = time.Now()
	if endStr != "" {
		if end, err = parseTime(endStr, true); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if startStr == "" {
		return end.AddDate(0, 0, -defaultDays), end, nil
	}
	if start, err = parseTime(startStr, false); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
