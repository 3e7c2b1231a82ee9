package pose

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Recording is a sequence of per-tick pose estimates captured from a live
// session. On disk it is JSON lines, one []Pose array per tick; an empty
// array (or blank line) means nothing was detected on that tick.
type Recording struct {
	Ticks [][]Pose
}

// ReadRecording parses a JSON-lines pose recording.
func ReadRecording(r io.Reader) (*Recording, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	rec := &Recording{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			rec.Ticks = append(rec.Ticks, nil)
			continue
		}
		var poses []Pose
		if err := json.Unmarshal([]byte(line), &poses); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rec.Ticks = append(rec.Ticks, poses)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return rec, nil
}

// ReadRecordingFile opens and parses a recording from disk.
func ReadRecordingFile(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := ReadRecording(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rec, nil
}

// WriteTo encodes the recording as JSON lines.
func (r *Recording) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, tick := range r.Ticks {
		if tick == nil {
			tick = []Pose{}
		}
		data, err := json.Marshal(tick)
		if err != nil {
			return n, err
		}
		written, err := bw.Write(append(data, '\n'))
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// RecordingSource replays a Recording as a Source, one tick per Estimate
// call. Once exhausted it reports no poses.
type RecordingSource struct {
	mu   sync.Mutex
	rec  *Recording
	next int
}

// Compile-time check: RecordingSource satisfies Source.
var _ Source = (*RecordingSource)(nil)

// NewRecordingSource creates a Source replaying rec from the first tick.
func NewRecordingSource(rec *Recording) *RecordingSource {
	return &RecordingSource{rec: rec}
}

// Estimate ignores the frame and returns the next recorded tick.
func (s *RecordingSource) Estimate(ctx context.Context, _ Frame) ([]Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.rec.Ticks) {
		return nil, nil
	}
	poses := s.rec.Ticks[s.next]
	s.next++
	return poses, nil
}

// Done reports whether every recorded tick has been replayed.
func (s *RecordingSource) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next >= len(s.rec.Ticks)
}
