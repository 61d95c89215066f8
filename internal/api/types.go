package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/launchpad/internal/job"
)

// CrawlRequest is the JSON body for POST /crawl. Sources stays raw so a
// non-array value can be reported as a validation error rather than a
// decode error.
type CrawlRequest struct {
	Ticker   string          `json:"ticker"`
	Topic    string          `json:"topic"`
	Goal     string          `json:"goal"`
	Sources  json.RawMessage `json:"sources"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// CrawlResponse is returned with 202 Accepted.
type CrawlResponse struct {
	JobID     string     `json:"job_id"`
	Status    job.Status `json:"status"`
	Ticker    string     `json:"ticker"`
	Topic     string     `json:"topic"`
	Goal      string     `json:"goal"`
	Sources   []string   `json:"sources"`
	CreatedAt time.Time  `json:"created_at"`
}

// JobListResponse is returned by GET /jobs
type JobListResponse struct {
	Jobs  []job.Job `json:"jobs"`
	Count int       `json:"count"`
}

// DeleteResponse is returned by DELETE /jobs/{id}
type DeleteResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}
