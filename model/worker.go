package model

import "time"

// WorkerCheckin is a heartbeat row for a worker process. A worker is
// considered dead once LastCheckin is older than the configured
// checkin timeout; the dispatcher treats a dead worker's claimed
// RunSteps as abandoned and eligible for reclaim.
type WorkerCheckin struct {
	ID           string    `json:"id"`
	FirstCheckin time.Time `json:"first_checkin"`
	LastCheckin  time.Time `json:"last_checkin"`
}

// Dead reports whether the worker's last checkin is older than timeout,
// measured from now.
func (w *WorkerCheckin) Dead(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastCheckin) > timeout
}
