package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.SugaredLogger

	// Scheduler metrics
	ticksTotal          prometheus.Counter
	tickDuration        prometheus.Histogram
	watchesScheduled    prometheus.Gauge
	triggersTotal       *prometheus.CounterVec
	triggerErrorsTotal  prometheus.Counter
	scheduleErrorsTotal prometheus.Counter

	// Engine metrics
	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	executionsQueued   prometheus.Counter
	executionsInFlight prometheus.Gauge

	// Action metrics
	actionsTotal         *prometheus.CounterVec
	webhookRequestsTotal *prometheus.CounterVec
	webhookDuration      prometheus.Histogram

	// History metrics
	historyWritesTotal      *prometheus.CounterVec
	historyWriteAttempts    prometheus.Histogram
	historyRetriesTotal     prometheus.Counter
	historyDeadLettersTotal prometheus.Counter
	partitionsCreatedTotal  prometheus.Counter

	// Provisioner metrics
	provisionRunsTotal *prometheus.CounterVec
	provisionedTotal   prometheus.Counter

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.SugaredLogger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initEngineMetrics(reg)
	s.initActionMetrics(reg)
	s.initHistoryMetrics(reg)
	s.initProvisionerMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.watchesScheduled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_scheduler_watches",
		Help: "Number of watches seen by the last tick.",
	})
	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_scheduler_triggers_total",
		Help: "Total number of trigger events emitted.",
	}, []string{"manual"})
	s.triggerErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scheduler_trigger_errors_total",
		Help: "Total number of trigger events that could not be emitted.",
	})
	s.scheduleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scheduler_schedule_errors_total",
		Help: "Total number of watches whose next fire time could not be computed.",
	})

	s.register(reg, s.ticksTotal, "watcher_scheduler_ticks_total")
	s.register(reg, s.tickDuration, "watcher_scheduler_tick_duration_seconds")
	s.register(reg, s.watchesScheduled, "watcher_scheduler_watches")
	s.register(reg, s.triggersTotal, "watcher_scheduler_triggers_total")
	s.register(reg, s.triggerErrorsTotal, "watcher_scheduler_trigger_errors_total")
	s.register(reg, s.scheduleErrorsTotal, "watcher_scheduler_schedule_errors_total")
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_engine_executions_total",
		Help: "Total number of watch executions by final state.",
	}, []string{"state"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_engine_execution_duration_seconds",
		Help:    "Duration of a watch execution in seconds, excluding the history write.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.executionsQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_engine_executions_queued_total",
		Help: "Total number of events that waited behind a running execution of the same watch.",
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_engine_executions_in_flight",
		Help: "Number of executions currently running.",
	})

	s.register(reg, s.executionsTotal, "watcher_engine_executions_total")
	s.register(reg, s.executionDuration, "watcher_engine_execution_duration_seconds")
	s.register(reg, s.executionsQueued, "watcher_engine_executions_queued_total")
	s.register(reg, s.executionsInFlight, "watcher_engine_executions_in_flight")
}

func (s *PrometheusSink) initActionMetrics(reg prometheus.Registerer) {
	s.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_actions_total",
		Help: "Total number of action results by type and status.",
	}, []string{"type", "status"})
	s.webhookRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_actions_webhook_requests_total",
		Help: "Total number of webhook requests by status class.",
	}, []string{"status_class"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_actions_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.actionsTotal, "watcher_actions_total")
	s.register(reg, s.webhookRequestsTotal, "watcher_actions_webhook_requests_total")
	s.register(reg, s.webhookDuration, "watcher_actions_webhook_duration_seconds")
}

func (s *PrometheusSink) initHistoryMetrics(reg prometheus.Registerer) {
	s.historyWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_history_writes_total",
		Help: "Total number of record writes by outcome.",
	}, []string{"outcome"})
	s.historyWriteAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_history_write_attempts",
		Help:    "Attempts needed per record write.",
		Buckets: []float64{1, 2, 3, 4, 5, 10},
	})
	s.historyRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_history_retries_total",
		Help: "Total number of record write retries.",
	})
	s.historyDeadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_history_dead_letters_total",
		Help: "Total number of records dropped after the last retry.",
	})
	s.partitionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_history_partitions_created_total",
		Help: "Total number of history partitions created by this process.",
	})

	s.register(reg, s.historyWritesTotal, "watcher_history_writes_total")
	s.register(reg, s.historyWriteAttempts, "watcher_history_write_attempts")
	s.register(reg, s.historyRetriesTotal, "watcher_history_retries_total")
	s.register(reg, s.historyDeadLettersTotal, "watcher_history_dead_letters_total")
	s.register(reg, s.partitionsCreatedTotal, "watcher_history_partitions_created_total")
}

func (s *PrometheusSink) initProvisionerMetrics(reg prometheus.Registerer) {
	s.provisionRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_provisioner_runs_total",
		Help: "Total number of partition provisioning runs by outcome.",
	}, []string{"outcome"})
	s.provisionedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_provisioner_partitions_ensured_total",
		Help: "Total number of partitions ensured by the provisioner.",
	})

	s.register(reg, s.provisionRunsTotal, "watcher_provisioner_runs_total")
	s.register(reg, s.provisionedTotal, "watcher_provisioner_partitions_ensured_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_eventbus_buffer_saturation",
		Help: "Event bus buffer fill ratio (0-1).",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watcher_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "watcher_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "watcher_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "watcher_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "watcher_eventbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warnw("metrics: failed to register", "metric", name, "error", err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickCompleted(duration time.Duration, watches int) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
	s.watchesScheduled.Set(float64(watches))
}

func (s *PrometheusSink) TriggerEmitted(manual bool) {
	s.triggersTotal.WithLabelValues(strconv.FormatBool(manual)).Inc()
}

func (s *PrometheusSink) TriggerEmitFailed() {
	s.triggerErrorsTotal.Inc()
}

func (s *PrometheusSink) ScheduleError() {
	s.scheduleErrorsTotal.Inc()
}

// Engine metrics implementation

func (s *PrometheusSink) ExecutionCompleted(state string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(state).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionQueued() {
	s.executionsQueued.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// Action metrics implementation

func (s *PrometheusSink) ActionCompleted(actionType, status string) {
	s.actionsTotal.WithLabelValues(actionType, status).Inc()
}

func (s *PrometheusSink) WebhookCompleted(statusClass string, duration time.Duration) {
	s.webhookRequestsTotal.WithLabelValues(statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

// History metrics implementation

func (s *PrometheusSink) HistoryWriteCompleted(attempts int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	s.historyWritesTotal.WithLabelValues(outcome).Inc()
	s.historyWriteAttempts.Observe(float64(attempts))
}

func (s *PrometheusSink) HistoryRetry() {
	s.historyRetriesTotal.Inc()
}

func (s *PrometheusSink) HistoryDeadLetter() {
	s.historyDeadLettersTotal.Inc()
}

func (s *PrometheusSink) PartitionCreated() {
	s.partitionsCreatedTotal.Inc()
}

// Provisioner metrics implementation

func (s *PrometheusSink) ProvisionCompleted(partitions int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	s.provisionRunsTotal.WithLabelValues(outcome).Inc()
	s.provisionedTotal.Add(float64(partitions))
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
