package models

import (
	"time"
)

// AlertState tracks one instrument across polling cycles. It lives for the
// process lifetime and is never written to storage.
type AlertState struct {
	Symbol            string
	CurrentlyAlerted  bool
	LastSignalTime    time.Time // zero until the first delivered alert
	LastEvaluatedTime time.Time
}

// InCooldown reports whether now is still within cooldown of the last delivered alert.
func (s *AlertState) InCooldown(now time.Time, cooldown time.Duration) bool {
	if s.LastSignalTime.IsZero() {
		return false
	}
	return now.Sub(s.LastSignalTime) < cooldown
}

// SessionStats are process-wide counters reported in status and fatal notices.
type SessionStats struct {
	SignalsSent int
	Errors      int
	Skipped     int
	Cycles      int
	StartTime   time.Time
}

// Uptime returns the elapsed time since StartTime as of now.
func (s SessionStats) Uptime(now time.Time) time.Duration {
	if s.StartTime.IsZero() || now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}
