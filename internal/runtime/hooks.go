package runtime

import (
	"github.com/prometheus/client_golang/prometheus"

	loggingpkg "github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/stream"
)

// LoggingHooks returns pre-built hooks that log forwarding task lifecycle
// events. Starts and completions are logged at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) stream.ForwardHooks {
	log := loggingpkg.ForComponent(logger, "forward")
	return stream.ForwardHooks{
		OnStart: func(info stream.TaskInfo) {
			log.Debug("Task started", loggingpkg.LogFields{"task": info.Name})
		},
		OnDone: func(info stream.TaskInfo) {
			log.Debug("Task completed", loggingpkg.LogFields{
				"task":        info.Name,
				"items":       info.Items,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
		OnError: func(info stream.TaskInfo, err error) {
			log.Error("Task failed", err, loggingpkg.LogFields{
				"task":        info.Name,
				"items":       info.Items,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
		OnCancel: func(info stream.TaskInfo, cause error) {
			fields := loggingpkg.LogFields{
				"task":        info.Name,
				"items":       info.Items,
				"duration_ms": info.Duration.Milliseconds(),
			}
			if cause != nil {
				fields["cause"] = cause.Error()
			}
			log.Debug("Task cancelled", fields)
		},
	}
}

// MetricsHooks returns pre-built hooks that report task outcomes by name.
func MetricsHooks(onStart, onDone, onError func(taskName string)) stream.ForwardHooks {
	return stream.ForwardHooks{
		OnStart: func(info stream.TaskInfo) {
			if onStart != nil {
				onStart(info.Name)
			}
		},
		OnDone: func(info stream.TaskInfo) {
			if onDone != nil {
				onDone(info.Name)
			}
		},
		OnError: func(info stream.TaskInfo, err error) {
			if onError != nil {
				onError(info.Name)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on task errors.
func AlertingHooks(alertFunc func(info stream.TaskInfo, err error)) stream.ForwardHooks {
	return stream.ForwardHooks{
		OnError: alertFunc,
	}
}

// ForwardMetrics counts forwarding tasks and the items they move. A nil
// *ForwardMetrics is valid and records nothing.
type ForwardMetrics struct {
	tasks      *prometheus.CounterVec
	items      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	registerer prometheus.Registerer
}

// NewForwardMetrics creates the collectors. Call Register to expose them.
func NewForwardMetrics(registerer prometheus.Registerer) *ForwardMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &ForwardMetrics{
		registerer: registerer,
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adapterflow",
			Subsystem: "forward",
			Name:      "tasks_total",
			Help:      "Number of forwarding tasks by outcome",
		}, []string{"task", "outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adapterflow",
			Subsystem: "forward",
			Name:      "items_total",
			Help:      "Number of items forwarded by finished tasks",
		}, []string{"task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adapterflow",
			Subsystem: "forward",
			Name:      "task_duration_seconds",
			Help:      "How long forwarding tasks ran",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
}

// Register registers the collectors. Collectors another ForwardMetrics
// already registered are tolerated.
func (m *ForwardMetrics) Register() error {
	if m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.tasks, m.items, m.duration} {
		if err := m.registerer.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return err
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if c == m.tasks {
					m.tasks = existing
				} else {
					m.items = existing
				}
			case *prometheus.HistogramVec:
				m.duration = existing
			}
		}
	}
	return nil
}

// Hooks records every finished task.
func (m *ForwardMetrics) Hooks() stream.ForwardHooks {
	if m == nil {
		return stream.ForwardHooks{}
	}
	finish := func(info stream.TaskInfo, outcome string) {
		m.tasks.WithLabelValues(info.Name, outcome).Inc()
		m.items.WithLabelValues(info.Name).Add(float64(info.Items))
		m.duration.WithLabelValues(info.Name).Observe(info.Duration.Seconds())
	}
	return stream.ForwardHooks{
		OnDone:   func(info stream.TaskInfo) { finish(info, "completed") },
		OnError:  func(info stream.TaskInfo, _ error) { finish(info, "failed") },
		OnCancel: func(info stream.TaskInfo, _ error) { finish(info, "cancelled") },
	}
}
