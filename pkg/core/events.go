package core

import "time"

// StatusEvent is the snapshot pushed to progress observers. Its shape
// mirrors the job status response so observers can treat a live event
// and a polled status interchangeably; a missed event is superseded by
// the next one because the Job record stays the source of truth.
type StatusEvent struct {
	JobID     string    `json:"job_id"`
	BrandID   string    `json:"brand_id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Message   string    `json:"message,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event carries a terminal status. Observers
// receiving a terminal event will get nothing further for this job.
func (e StatusEvent) Terminal() bool {
	return TerminalStatus(e.Status)
}

// Snapshot builds a StatusEvent from the job's current state.
func Snapshot(j *Job) StatusEvent {
	return StatusEvent{
		JobID:     j.ID,
		BrandID:   j.BrandID,
		Kind:      j.Kind,
		Status:    j.Status,
		Total:     j.Total,
		Processed: j.Processed,
		Created:   j.Created,
		Updated:   j.Updated,
		Skipped:   j.Skipped,
		Failed:    j.Failed,
		Message:   j.Message,
		ErrorKind: j.ErrorKind,
		Timestamp: time.Now(),
	}
}
