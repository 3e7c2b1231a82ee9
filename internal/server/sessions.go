package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/session"
)

const maxFrameBody = 8 << 20

type startSessionRequest struct {
	Exercise string `json:"exercise"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}

	snap, err := s.sessions.Start(uid, req.Exercise)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	snap, err := s.sessions.Current(uid)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStopSession ends the caller's session. With log=true the final
// tally is stored as an exercise log; pain=true marks it as painful.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	snap, err := s.sessions.Stop(uid)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	resp := map[string]any{"session": snap}
	if q := r.URL.Query(); q.Get("log") == "true" {
		in := sessionLog(snap, q.Get("pain") == "true")
		result, err := s.ingester.Ingest(r.Context(), uid, "session", []models.ExerciseLogInput{in})
		if err != nil {
			s.log.Error("logging finished session", "user_id", uid, "session", snap.ID, "error", err)
			// The session is already stopped. Return its tally so the
			// client can retry with POST /api/v1/exercises/log.
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   err.Error(),
				"session": snap,
			})
			return
		}
		if len(result.Logs) > 0 {
			resp["log"] = result.Logs[0]
		}
		resp["achievements"] = result.Achievements
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionLog converts a finished session into a log entry. Quality is the
// share of ticks with all keypoints confident.
func sessionLog(snap session.Snapshot, pain bool) models.ExerciseLogInput {
	id := snap.ID
	date := snap.StartedAt
	return models.ExerciseLogInput{
		ExerciseType: snap.Exercise,
		Reps:         int(snap.State.Reps),
		QualityScore: snap.Coverage * 100,
		PainDetected: pain,
		Date:         &date,
		SessionID:    &id,
	}
}

func (s *Server) handlePushPoses(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	var poses []pose.Pose
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLogBody)).Decode(&poses); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.sessions.PushPoses(uid, poses); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading frame: " + err.Error()})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty frame"})
		return
	}
	width, _ := strconv.Atoi(r.Header.Get("X-Frame-Width"))
	height, _ := strconv.Atoi(r.Header.Get("X-Frame-Height"))

	frame := pose.Frame{
		Data:        data,
		Width:       width,
		Height:      height,
		ContentType: r.Header.Get("Content-Type"),
		CapturedAt:  time.Now(),
	}
	if err := s.sessions.PushFrame(uid, frame); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	active := s.sessions.Active()
	if active == nil {
		active = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, active)
}

// handleSessionStream upgrades to a websocket carrying the caller's session
// snapshots. Clinicians may pass all=true to watch every session.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	all := r.URL.Query().Get("all") == "true"
	if all && !userInfoFromContext(r).Clinician() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authorized"})
		return
	}
	s.hub.ServeClient(w, r, uid, all)
}

func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrWrongInput):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnknownExercise):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
