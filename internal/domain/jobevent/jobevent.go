// Package jobevent defines the append-only per-job audit log entry
// required by spec §4.3: "append-only event log per job for audit."
package jobevent

import "time"

// JobEvent is a single audit row recorded for every fallback or terminal
// failure a job goes through. Entries are never mutated or deleted, and
// unlike the Job's own last-attempt fields, every attempt is retained (per
// SPEC_FULL.md §13's "fallback attempt history" decision).
type JobEvent struct {
	JobID      string
	Provider   string
	Model      string
	ErrorKind  string
	Reason     string
	OccurredAt time.Time
}
