package api

import (
	"time"

	"github.com/djlord-it/easy-watcher/internal/history"
)

type ActionResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	ThrottlePeriod string `json:"throttle_period,omitempty"`
}

type WatchResponse struct {
	ID           string            `json:"id"`
	Trigger      string            `json:"trigger"`
	Input        string            `json:"input"`
	Condition    string            `json:"condition"`
	Actions      []ActionResponse  `json:"actions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	NextFireTime string            `json:"next_fire_time,omitempty"`
}

type ListWatchesResponse struct {
	Watches []WatchResponse `json:"watches"`
}

type ListRecordsResponse struct {
	Total   int64         `json:"total"`
	Records []history.Hit `json:"records"`
}

type BucketResponse struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

type AggregationResponse struct {
	Field   string           `json:"field"`
	Buckets []BucketResponse `json:"buckets"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
