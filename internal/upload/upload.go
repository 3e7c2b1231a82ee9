// Package upload replays recorded pose streams through the rep counter and
// sends the resulting exercise logs to the server.
package upload

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/repcount"
)

// replayNamespace seeds the session IDs derived from recording hashes, so a
// file re-sent after the state DB is lost is deduplicated by the server.
var replayNamespace = uuid.MustParse("6f1c2e4a-8f0b-4d7e-9a55-3b2d1c0e7a91")

// Stats tracks upload progress.
type Stats struct {
	FilesTotal    int
	FilesUploaded int
	FilesSkipped  int
	FilesErrored  int

	LogsSent     int
	LogsInserted int64
	RepsCounted  int

	Achievements []string
}

// Replay is the outcome of running one recording through a Counter.
type Replay struct {
	Exercise string
	Reps     int
	Quality  float64
	Ticks    int
}

// Uploader walks a directory of recordings named <exercise>_<anything>.jsonl,
// counts each one offline and POSTs the logs to the server.
type Uploader struct {
	client    *Client
	state     *StateDB
	dir       string
	dryRun    bool
	batchSize int
	exercises map[string]repcount.Exercise
	log       *slog.Logger
	stats     Stats
}

// New creates a new Uploader. The bicep curl is always available; exercises
// adds or overrides definitions by name.
func New(client *Client, state *StateDB, dir string, dryRun bool, batchSize int, exercises []repcount.Exercise, log *slog.Logger) *Uploader {
	if batchSize <= 0 {
		batchSize = 50
	}
	catalog := map[string]repcount.Exercise{
		models.ExerciseBicepCurl: repcount.BicepCurl(repcount.SideLeft),
	}
	for _, ex := range exercises {
		catalog[ex.Name] = ex.WithDefaults()
	}
	return &Uploader{
		client:    client,
		state:     state,
		dir:       dir,
		dryRun:    dryRun,
		batchSize: batchSize,
		exercises: catalog,
		log:       log,
	}
}

// pending is a replayed file waiting to be sent.
type pending struct {
	file fileInfo
	log  models.ExerciseLogInput
}

// fileInfo tracks a file's metadata for state DB operations.
type fileInfo struct {
	relPath string
	size    int64
	hash    string
}

// Run executes the upload pipeline.
func (u *Uploader) Run(ctx context.Context) (*Stats, error) {
	var files []string
	err := filepath.WalkDir(u.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return &u.stats, fmt.Errorf("walking %s: %w", u.dir, err)
	}
	sort.Strings(files)

	var batch []pending
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &u.stats, err
		}
		p, ok := u.prepare(ctx, f)
		if !ok {
			continue
		}
		batch = append(batch, p)
		if len(batch) >= u.batchSize {
			if err := u.send(ctx, batch); err != nil {
				return &u.stats, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := u.send(ctx, batch); err != nil {
			return &u.stats, err
		}
	}
	return &u.stats, nil
}

// prepare checks the state DB and replays one file. ok is false when the
// file was skipped or failed.
func (u *Uploader) prepare(ctx context.Context, path string) (pending, bool) {
	u.stats.FilesTotal++

	relPath, _ := filepath.Rel(u.dir, path)
	info, err := os.Stat(path)
	if err != nil {
		u.log.Warn("stat failed", "file", path, "error", err)
		u.stats.FilesErrored++
		return pending{}, false
	}

	hash, err := HashFile(path)
	if err != nil {
		u.log.Warn("hash failed", "file", path, "error", err)
		u.stats.FilesErrored++
		return pending{}, false
	}

	uploaded, err := u.state.IsUploaded(relPath, info.Size(), hash)
	if err != nil {
		u.log.Warn("state check failed", "file", path, "error", err)
		u.stats.FilesErrored++
		return pending{}, false
	}
	if uploaded {
		u.stats.FilesSkipped++
		return pending{}, false
	}

	name, ok := u.exerciseFor(filepath.Base(path))
	if !ok {
		u.log.Warn("unknown exercise in file name", "file", path)
		u.stats.FilesErrored++
		return pending{}, false
	}

	rec, err := pose.ReadRecordingFile(path)
	if err != nil {
		u.log.Warn("parse failed", "file", path, "error", err)
		u.stats.FilesErrored++
		return pending{}, false
	}
	fi := fileInfo{relPath: relPath, size: info.Size(), hash: hash}
	if len(rec.Ticks) == 0 {
		u.stats.FilesSkipped++
		// Mark empty files as uploaded so we don't re-check them
		if !u.dryRun {
			_ = u.state.MarkUploaded(fi.relPath, fi.size, fi.hash)
		}
		return pending{}, false
	}

	r, err := ReplayRecording(ctx, rec, u.exercises[name])
	if err != nil {
		u.log.Warn("replay failed", "file", path, "error", err)
		u.stats.FilesErrored++
		return pending{}, false
	}
	date := info.ModTime().UTC()
	sessionID := uuid.NewSHA1(replayNamespace, []byte(hash))

	u.log.Info("replayed recording",
		"file", relPath,
		"exercise", r.Exercise,
		"reps", r.Reps,
		"quality", fmt.Sprintf("%.1f", r.Quality),
		"ticks", r.Ticks,
	)
	return pending{
		file: fi,
		log: models.ExerciseLogInput{
			ExerciseType: r.Exercise,
			Reps:         r.Reps,
			QualityScore: r.Quality,
			Date:         &date,
			SessionID:    &sessionID,
		},
	}, true
}

func (u *Uploader) send(ctx context.Context, batch []pending) error {
	for _, p := range batch {
		u.stats.RepsCounted += p.log.Reps
	}

	if u.dryRun {
		u.log.Info("dry-run: would send", "logs", len(batch))
		u.stats.LogsSent += len(batch)
		return nil
	}

	logs := make([]models.ExerciseLogInput, len(batch))
	for i, p := range batch {
		logs[i] = p.log
	}
	result, err := u.client.SendLogs(ctx, logs)
	if err != nil {
		u.stats.FilesErrored += len(batch)
		return fmt.Errorf("sending %d logs: %w", len(batch), err)
	}
	u.stats.LogsSent += len(batch)
	u.stats.LogsInserted += result.LogsInserted
	for _, a := range result.Achievements {
		u.stats.Achievements = append(u.stats.Achievements, a.BadgeName)
	}

	// Mark files as uploaded
	for _, p := range batch {
		if err := u.state.MarkUploaded(p.file.relPath, p.file.size, p.file.hash); err != nil {
			u.log.Warn("failed to mark uploaded", "file", p.file.relPath, "error", err)
		}
		u.stats.FilesUploaded++
	}
	return nil
}

// exerciseFor returns the longest catalog name that prefixes the file name
// followed by "_" or ".".
func (u *Uploader) exerciseFor(base string) (string, bool) {
	best := ""
	for name := range u.exercises {
		if len(name) <= len(best) || !strings.HasPrefix(base, name) {
			continue
		}
		if rest := base[len(name):]; strings.HasPrefix(rest, "_") || strings.HasPrefix(rest, ".") {
			best = name
		}
	}
	return best, best != ""
}

// ReplayRecording feeds every recorded tick through a fresh Counter for ex,
// the same way a live session consumes its pose source. Quality is the
// percentage of ticks whose keypoints were all confident.
func ReplayRecording(ctx context.Context, rec *pose.Recording, ex repcount.Exercise) (Replay, error) {
	c := repcount.NewCounter(ex)
	src := pose.NewRecordingSource(rec)
	for !src.Done() {
		poses, err := src.Estimate(ctx, pose.Frame{})
		if err != nil {
			return Replay{}, err
		}
		c.Observe(pose.FirstPose(poses))
	}
	return Replay{
		Exercise: c.Exercise().Name,
		Reps:     int(c.State().Reps),
		Quality:  c.Coverage() * 100,
		Ticks:    len(rec.Ticks),
	}, nil
}

// DefaultStateDir is where the uploader keeps its state DB.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rehabai-upload"), nil
}

