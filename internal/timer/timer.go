// Package timer implements the pause/resume elapsed-time accumulator used for
// both the training timer and the round timer.
//
// The stored Elapsed value only advances on an explicit Pause. Live values are
// derived on read with ElapsedAt, so polling never drifts the accumulator.
package timer

import "time"

// Timer accumulates running time across any number of start/pause cycles.
type Timer struct {
	StartedAt *time.Time    `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_time"`
	Paused    bool          `json:"is_paused"`
}

// New returns a stopped timer with no accumulated time.
func New() Timer {
	return Timer{Paused: true}
}

// Running reports whether the timer is currently accumulating.
func (t Timer) Running() bool {
	return !t.Paused && t.StartedAt != nil
}

// Start begins (or resumes) accumulating from now. Starting a running timer is a
// no-op and reports false.
func (t *Timer) Start(now time.Time) bool {
	if t.Running() {
		return false
	}

	t.StartedAt = &now
	t.Paused = false
	return true
}

// Pause folds the running interval into Elapsed. Pausing a timer that is not
// running leaves Elapsed untouched and reports false.
func (t *Timer) Pause(now time.Time) bool {
	if !t.Running() {
		t.StartedAt = nil
		t.Paused = true
		return false
	}

	if d := now.Sub(*t.StartedAt); d > 0 {
		t.Elapsed += d
	}
	t.StartedAt = nil
	t.Paused = true
	return true
}

// Reset zeroes the timer and leaves it paused.
func (t *Timer) Reset() {
	*t = New()
}

// ElapsedAt returns Elapsed plus the running interval, if any.
func (t Timer) ElapsedAt(now time.Time) time.Duration {
	if !t.Running() {
		return t.Elapsed
	}

	d := now.Sub(*t.StartedAt)
	if d < 0 {
		d = 0
	}
	return t.Elapsed + d
}

// Snapshot is the wire view of a timer at a given instant.
type Snapshot struct {
	StartedAt      *time.Time `json:"started_at"`
	ElapsedSeconds float64    `json:"elapsed_time"`
	Paused         bool       `json:"is_paused"`
}

// SnapshotAt renders the timer with its live elapsed value.
func (t Timer) SnapshotAt(now time.Time) Snapshot {
	return Snapshot{
		StartedAt:      t.StartedAt,
		ElapsedSeconds: t.ElapsedAt(now).Seconds(),
		Paused:         !t.Running(),
	}
}
