package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickCompleted(duration time.Duration, watches int)
	TriggerEmitted(manual bool)
	TriggerEmitFailed()
	ScheduleError()

	// Engine metrics
	ExecutionCompleted(state string, duration time.Duration)
	ExecutionQueued()
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Action metrics
	ActionCompleted(actionType, status string)
	WebhookCompleted(statusClass string, duration time.Duration)

	// History metrics
	HistoryWriteCompleted(attempts int, err error)
	HistoryRetry()
	HistoryDeadLetter()
	PartitionCreated()

	// Provisioner metrics
	ProvisionCompleted(partitions int, err error)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// StatusClass constants for WebhookCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
