package events

import (
	"github.com/mattjoyce/convoy/internal/job"
)

const (
	TypeJobStatus  = "job.status"
	TypeJobAttempt = "job.attempt"
)

// Source is the notification surface of the dispatcher.
type Source interface {
	OnStatus(fn func(*job.Job, job.Status)) func()
	OnAttempt(fn func(*job.Job, int)) func()
}

// StatusPayload is the data of a job.status event.
type StatusPayload struct {
	JobID        string     `json:"job_id"`
	InputPath    string     `json:"input_path"`
	TargetFormat string     `json:"target_format"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	Priority     int        `json:"priority"`
	Status       job.Status `json:"status"`
}

// AttemptPayload is the data of a job.attempt event.
type AttemptPayload struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
}

// Bridge republishes src notifications on hub and returns a detach func.
func Bridge(src Source, hub *Hub) func() {
	offStatus := src.OnStatus(func(j *job.Job, s job.Status) {
		hub.Publish(TypeJobStatus, StatusPayload{
			JobID:        j.ID,
			InputPath:    j.InputPath,
			TargetFormat: j.TargetFormat,
			Fingerprint:  j.Fingerprint,
			Priority:     j.Priority,
			Status:       s,
		})
	})
	offAttempt := src.OnAttempt(func(j *job.Job, n int) {
		hub.Publish(TypeJobAttempt, AttemptPayload{JobID: j.ID, Attempt: n})
	})
	return func() {
		offStatus()
		offAttempt()
	}
}
