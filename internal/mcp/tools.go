package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/rehabai/internal/storage"
)

// defaultTimeRange returns start/end defaulting to the last days days.
func defaultTimeRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -days)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// targetUser resolves the user_id argument, defaulting to the caller.
func targetUser(ctx context.Context, req mcp.CallToolRequest) (int, error) {
	if id := req.GetInt("user_id", 0); id > 0 {
		return id, nil
	}
	if c, ok := CallerFromContext(ctx); ok && c.UserID > 0 {
		return c.UserID, nil
	}
	return 0, errors.New("user_id parameter is required")
}

// --- Tool definitions ---

var toolGetExerciseHistory = mcp.NewTool("get_exercise_history",
	mcp.WithDescription("List a patient's exercise session logs, newest first. Each log has the exercise type, rep count, quality score (0-100) and whether pain was reported."),
	mcp.WithNumber("user_id", mcp.Description("Patient user ID. Defaults to the caller.")),
	mcp.WithString("exercise_type", mcp.Description("Only logs of this exercise type (e.g. bicep_curl)")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to no limit.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to no limit.")),
	mcp.WithNumber("limit", mcp.Description("Maximum number of logs. Defaults to 100.")),
)

var toolListPatients = mcp.NewTool("list_patients",
	mcp.WithDescription("List all patients. Clinicians only."),
)

var toolGetPatientReport = mcp.NewTool("get_patient_report",
	mcp.WithDescription("Per-exercise summary for one patient: total reps, average quality, number of sessions and number of sessions with pain. Clinicians only."),
	mcp.WithNumber("user_id", mcp.Required(), mcp.Description("Patient user ID")),
)

var toolGetProgressTrend = mcp.NewTool("get_progress_trend",
	mcp.WithDescription("A patient's sessions, reps, average quality and pain sessions per period and exercise type. Use it to judge whether rehabilitation is progressing."),
	mcp.WithNumber("user_id", mcp.Description("Patient user ID. Defaults to the caller.")),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 90 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("bucket", mcp.Description("Aggregation period. Defaults to 'week'."), mcp.Enum("day", "week", "month")),
)

var toolGetAchievements = mcp.NewTool("get_achievements",
	mcp.WithDescription("Badges a patient has earned, in the order earned."),
	mcp.WithNumber("user_id", mcp.Description("Patient user ID. Defaults to the caller.")),
)

// --- Tool handlers ---

func (h *handlers) getExerciseHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := targetUser(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := authorize(ctx, uid); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var f storage.LogFilter
	if s := req.GetString("start", ""); s != "" {
		if f.Start, err = parseFlexTime(s); err != nil {
			return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
		}
	}
	if s := req.GetString("end", ""); s != "" {
		if f.End, err = parseFlexTime(s); err != nil {
			return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
		}
	}
	f.ExerciseType = req.GetString("exercise_type", "")
	f.Limit = req.GetInt("limit", 100)

	logs, err := h.ds.QueryExerciseLogs(ctx, uid, f)
	if err != nil {
		h.log.Error("mcp get_exercise_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(logs)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) listPatients(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := requireClinician(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	patients, err := h.ds.ListPatients(ctx)
	if err != nil {
		h.log.Error("mcp list_patients", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(patients)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getPatientReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := req.GetInt("user_id", 0)
	if uid <= 0 {
		return mcp.NewToolResultError("user_id parameter is required"), nil
	}
	if err := requireClinician(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	patient, err := h.ds.GetUser(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("user %d not found", uid)), nil
	}
	if err != nil {
		h.log.Error("mcp get_patient_report user", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	rows, err := h.ds.GetPatientReport(ctx, uid)
	if err != nil {
		h.log.Error("mcp get_patient_report", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"patient":   patient,
		"exercises": rows,
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getProgressTrend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := targetUser(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := authorize(ctx, uid); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""), 90)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	bucket := req.GetString("bucket", "week")

	points, err := h.ds.GetProgressTrend(ctx, uid, start, end, bucket)
	if err != nil {
		h.log.Error("mcp get_progress_trend", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(points)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getAchievements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := targetUser(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := authorize(ctx, uid); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	badges, err := h.ds.QueryAchievements(ctx, uid)
	if err != nil {
		h.log.Error("mcp get_achievements", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(badges)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
