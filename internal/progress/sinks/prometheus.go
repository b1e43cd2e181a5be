package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/lenscrawl/internal/progress"
)

// PrometheusSink turns events into crawl session and task collectors.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionsRunning   prometheus.Gauge
	sessionRuntime    *prometheus.HistogramVec

	tasksFinished *prometheus.CounterVec
	taskBytes     prometheus.Counter
	taskDuration  *prometheus.HistogramVec

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors with reg, reusing collectors an
// earlier sink already registered there.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{running: make(map[uuid.UUID]struct{})}
	var err error
	if s.sessionsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_sessions_started_total",
		Help: "Crawl sessions started.",
	})); err != nil {
		return nil, err
	}
	if s.sessionsCompleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_sessions_completed_total",
		Help: "Crawl sessions finished, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.sessionsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_sessions_running",
		Help: "Crawl sessions in progress.",
	})); err != nil {
		return nil, err
	}
	if s.sessionRuntime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_session_runtime_seconds",
		Help:    "Wall time per finished crawl session.",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.tasksFinished, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_tasks_finished_total",
		Help: "Tasks processed by workers, by outcome and fetch status class.",
	}, []string{"outcome", "status_class"})); err != nil {
		return nil, err
	}
	if s.taskBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_task_bytes_total",
		Help: "Response bytes read by workers.",
	})); err != nil {
		return nil, err
	}
	if s.taskDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_task_duration_seconds",
		Help:    "Wall time per task, fetch through index write.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessionsStarted.Inc()
			if s.track(evt.SessionID, true) {
				s.sessionsRunning.Inc()
			}
		case progress.StageSessionDone, progress.StageSessionError:
			result := "success"
			if evt.Stage == progress.StageSessionError {
				result = "error"
			}
			s.sessionsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.SessionID, false) {
				s.sessionsRunning.Dec()
			}
		case progress.StageTaskDone:
			class := evt.StatusClass
			if class == "" {
				class = progress.StatusNone
			}
			s.tasksFinished.WithLabelValues(evt.Outcome, string(class)).Inc()
			if evt.Bytes > 0 {
				s.taskBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.taskDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a session start or end and reports whether it changed the
// running set.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
