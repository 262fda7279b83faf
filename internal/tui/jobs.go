package tui

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/job"
)

const maxTrackedJobs = 200

// JobState is the monitor's view of one job, built from events only.
type JobState struct {
	ID        string
	Input     string
	Target    string
	Status    job.Status
	Attempts  int
	FirstSeen time.Time
	Started   time.Time
	Finished  time.Time
}

// Elapsed is the running time so far, or the total once finished.
func (j *JobState) Elapsed(now time.Time) time.Duration {
	if j.Started.IsZero() {
		return 0
	}
	if !j.Finished.IsZero() {
		return j.Finished.Sub(j.Started)
	}
	return now.Sub(j.Started)
}

// jobBoard tracks jobs in first-seen order, newest first.
type jobBoard struct {
	jobs  map[string]*JobState
	order []string
}

func newJobBoard() *jobBoard {
	return &jobBoard{jobs: make(map[string]*JobState)}
}

// apply folds one event into the board and reports whether anything changed.
func (b *jobBoard) apply(e events.Event) bool {
	switch e.Type {
	case events.TypeJobStatus:
		var p events.StatusPayload
		if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
			return false
		}
		j := b.get(p.JobID, e.At)
		j.Input = p.InputPath
		j.Target = p.TargetFormat
		j.Status = p.Status
		switch {
		case p.Status == job.StatusRunning:
			j.Started = e.At
		case p.Status.Terminal():
			j.Finished = e.At
			if j.Started.IsZero() {
				j.Started = e.At
			}
		}
		return true

	case events.TypeJobAttempt:
		var p events.AttemptPayload
		if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
			return false
		}
		j := b.get(p.JobID, e.At)
		j.Attempts = max(j.Attempts, p.Attempt)
		return true
	}
	return false
}

func (b *jobBoard) get(id string, at time.Time) *JobState {
	if j, ok := b.jobs[id]; ok {
		return j
	}
	j := &JobState{ID: id, Status: job.StatusQueued, FirstSeen: at}
	b.jobs[id] = j
	b.order = append([]string{id}, b.order...)
	b.prune()
	return j
}

// prune drops the oldest finished jobs once the board is full.
func (b *jobBoard) prune() {
	for i := len(b.order) - 1; len(b.order) > maxTrackedJobs && i >= 0; i-- {
		id := b.order[i]
		if !b.jobs[id].Status.Terminal() {
			continue
		}
		delete(b.jobs, id)
		b.order = slices.Delete(b.order, i, i+1)
	}
}

// counts returns how many tracked jobs sit in each status.
func (b *jobBoard) counts() map[job.Status]int {
	out := make(map[job.Status]int)
	for _, j := range b.jobs {
		out[j.Status]++
	}
	return out
}

func jobColumns() []table.Column {
	return []table.Column{
		{Title: "Job", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Input", Width: 32},
		{Title: "To", Width: 6},
		{Title: "Try", Width: 4},
		{Title: "Elapsed", Width: 9},
	}
}

func (b *jobBoard) rows(now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(b.order))
	for _, id := range b.order {
		j := b.jobs[id]
		short := j.ID
		if len(short) > 8 {
			short = short[:8]
		}
		elapsed := ""
		if d := j.Elapsed(now); d > 0 {
			elapsed = formatDuration(d)
		}
		attempts := ""
		if j.Attempts > 0 {
			attempts = strconv.Itoa(j.Attempts)
		}
		rows = append(rows, table.Row{short, string(j.Status), filepath.Base(j.Input), j.Target, attempts, elapsed})
	}
	return rows
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
