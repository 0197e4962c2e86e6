package queue

import (
	"encoding/json"
	"time"
)

// JobOptions controls how a job is enqueued
type JobOptions struct {
	// ID is the dedup key. Empty means a fresh random id.
	ID string `json:"id,omitempty"`
	// Delay defers the first execution
	Delay time.Duration `json:"delay,omitempty"`
	// Attempts is the total number of tries a failing job gets. Zero means
	// one try with no retention: completed and failed jobs are removed.
	// A non-zero value retains finished jobs for inspection.
	Attempts int `json:"attempts,omitempty"`
	// Every registers a recurring scheduler instead of a one-shot job
	Every time.Duration `json:"every,omitempty"`
	// Immediately fires the first recurrence without waiting a full interval
	Immediately bool `json:"immediately,omitempty"`
}

// Job is one unit of asynchronous work as stored in the queue
type Job struct {
	ID         string          `json:"id"`
	Pattern    string          `json:"pattern"`
	Payload    json.RawMessage `json:"payload"`
	Options    JobOptions      `json:"options"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempt    int             `json:"attempt"`
}

// Bind unmarshals the job payload into v
func (j *Job) Bind(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// scheduler is a persisted recurring schedule. It is keyed by its own id in
// the schedulers hash; each occurrence spawns a fresh job id so one-shot
// dedup never collides with recurrence.
type scheduler struct {
	ID       string          `json:"id"`
	Pattern  string          `json:"pattern"`
	Payload  json.RawMessage `json:"payload"`
	Every    time.Duration   `json:"every"`
	Attempts int             `json:"attempts,omitempty"`
}

// jobEvent is the completion notice published on the job's events channel
type jobEvent struct {
	JobID  string          `json:"job_id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
