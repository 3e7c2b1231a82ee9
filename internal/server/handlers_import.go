package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/claude/rehabai/internal/ingest"
	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/storage"
)

const maxIngestBody = 16 << 20

// handleIngestLogs accepts a JSON array of logs from the replay uploader on
// behalf of the login in X-Rehab-User.
func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	login := r.Header.Get("X-Rehab-User")
	if login == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Rehab-User header required"})
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}

	role := models.RolePatient
	if s.auth.IsClinician(login) {
		role = models.RoleClinician
	}
	user, err := s.db.GetOrCreateUser(r.Context(), login, login, role)
	if err != nil {
		s.log.Error("resolving ingest user", "login", login, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body: " + err.Error()})
		return
	}
	logs, err := models.DecodeExerciseLogs(raw)
	if err != nil {
		s.logImport(user.ID, source, &ingest.Result{}, err, int(time.Since(start).Milliseconds()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := s.ingester.Ingest(r.Context(), user.ID, source, logs)
	if err != nil {
		s.logImport(user.ID, source, &ingest.Result{LogsReceived: len(logs)}, err, int(time.Since(start).Milliseconds()))
		s.log.Error("ingest error", "login", login, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logImport(user.ID, source, result, nil, int(time.Since(start).Milliseconds()))

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImportLogs(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	logs, err := s.db.QueryImportLogs(r.Context(), uid, queryInt(r, "limit", 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []storage.ImportLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// logImport records an import operation's result to the import_logs table.
func (s *Server) logImport(uid int, source string, result *ingest.Result, importErr error, durationMs int) {
	status := "success"
	var errMsg *string
	if importErr != nil {
		status = "error"
		msg := importErr.Error()
		errMsg = &msg
	}

	log := storage.ImportLog{
		UserID:       uid,
		Source:       source,
		Status:       status,
		LogsReceived: result.LogsReceived,
		LogsInserted: result.LogsInserted,
		DurationMs:   &durationMs,
		ErrorMessage: errMsg,
	}

	ctx, cancel := contextWithTimeout()
	defer cancel()

	if _, err := s.db.InsertImportLog(ctx, log); err != nil {
		s.log.Error("failed to log import", "source", source, "error", err)
	}
}

// contextWithTimeout returns a background context with a 5-second timeout for async logging.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
}
