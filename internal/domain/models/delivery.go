package models

import "time"

// DeliveryStatus is the lifecycle status of a delivery record
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryAbandoned DeliveryStatus = "abandoned"
)

// DeliveryRecord is the durable record of one attempt (and its retries) to
// deliver a signed payload to an external destination. AttemptCount never
// exceeds the configured maximum; once abandoned, no further retries are
// scheduled.
type DeliveryRecord struct {
	ID             string         `json:"id"`
	Destination    string         `json:"destination"`
	EventKey       string         `json:"event_key"` // triggering event's idempotency key
	Payload        []byte         `json:"payload"`   // canonical serialized envelope
	Signature      string         `json:"signature"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	LastError      string         `json:"last_error,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	LatencyMS      int64          `json:"latency_ms,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DeliveryStats aggregates delivery outcomes for one destination over a window
type DeliveryStats struct {
	Destination    string         `json:"destination"`
	WindowStart    time.Time      `json:"window_start"`
	WindowEnd      time.Time      `json:"window_end"`
	Total          int            `json:"total"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Abandoned      int            `json:"abandoned"`
	SuccessRate    float64        `json:"success_rate"`
	AvgLatencyMS   float64        `json:"avg_latency_ms"`
	FailureReasons map[string]int `json:"failure_reasons"`
}
