package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickCompleted(duration time.Duration, watches int)           {}
func (n *NoopSink) TriggerEmitted(manual bool)                                  {}
func (n *NoopSink) TriggerEmitFailed()                                          {}
func (n *NoopSink) ScheduleError()                                              {}
func (n *NoopSink) ExecutionCompleted(state string, duration time.Duration)     {}
func (n *NoopSink) ExecutionQueued()                                            {}
func (n *NoopSink) ExecutionsInFlightIncr()                                     {}
func (n *NoopSink) ExecutionsInFlightDecr()                                     {}
func (n *NoopSink) ActionCompleted(actionType, status string)                   {}
func (n *NoopSink) WebhookCompleted(statusClass string, duration time.Duration) {}
func (n *NoopSink) HistoryWriteCompleted(attempts int, err error)               {}
func (n *NoopSink) HistoryRetry()                                               {}
func (n *NoopSink) HistoryDeadLetter()                                          {}
func (n *NoopSink) PartitionCreated()                                           {}
func (n *NoopSink) ProvisionCompleted(partitions int, err error)                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                   {}
func (n *NoopSink) BufferCapacitySet(capacity int)                              {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                   {}
func (n *NoopSink) EmitError()                                                  {}
