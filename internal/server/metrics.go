package server

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// handleMetrics exposes session counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	t := s.sessions.Totals()

	families := []*dto.MetricFamily{
		counter("rehabai_ticks_total", "Sampling ticks across all sessions.", float64(t.Ticks)),
		counter("rehabai_ticks_dropped_total", "Ticks skipped because an estimate was still running.", float64(t.TicksDropped)),
		counter("rehabai_estimates_total", "Pose estimates completed.", float64(t.Estimates)),
		counter("rehabai_estimate_errors_total", "Pose estimates that failed.", float64(t.EstimateErrors)),
		counter("rehabai_no_pose_total", "Ticks where no body was detected.", float64(t.NoPose)),
		counter("rehabai_frames_dropped_total", "Uploaded frames replaced before they were estimated.", float64(t.FramesDropped)),
		counter("rehabai_poses_dropped_total", "Client-pushed pose estimates replaced before a tick consumed them.", float64(t.PosesDropped)),
		counter("rehabai_sessions_finished_total", "Counting sessions that have ended.", float64(t.FinishedSessions)),
		counter("rehabai_reps_counted_total", "Repetitions counted by finished and running sessions.", float64(t.RepsCounted)),
		gauge("rehabai_sessions_active", "Counting sessions currently running.", float64(t.ActiveSessions)),
		gauge("rehabai_stream_clients", "Connected live stream clients.", float64(s.hub.Count())),
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			s.log.Error("encoding metrics", "family", mf.GetName(), "error", err)
			return
		}
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func ptr[T any](v T) *T { return &v }
