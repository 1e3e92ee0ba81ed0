package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun records one cascade over one connection.
type SyncRun struct {
	ID            int64      `json:"id" db:"id"`
	UserID        int64      `json:"user_id" db:"user_id"`
	ConnectionID  int64      `json:"connection_id" db:"connection_id"`
	Channel       ChannelID  `json:"channel" db:"channel"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	MethodUsed    SyncMethod `json:"method_used" db:"method_used"`
	BookingsFound int        `json:"bookings_found" db:"bookings_found"`
	BookingsSaved int        `json:"bookings_saved" db:"bookings_saved"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
	Error         string     `json:"error" db:"error"`
}

type ChannelStats struct {
	Channel           ChannelID  `json:"channel" db:"channel"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     string     `json:"last_run_status" db:"last_run_status"`
	LastMethod        string     `json:"last_method" db:"last_method"`
	TotalBookings     int        `json:"total_bookings" db:"total_bookings"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
}

// MethodAttempt is one step of a cascade.
type MethodAttempt struct {
	Method  SyncMethod `json:"method"`
	Skipped bool       `json:"skipped,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// SyncResult is the per-(user, channel) outcome of a cascade.
type SyncResult struct {
	Success       bool            `json:"success"`
	MethodUsed    SyncMethod      `json:"method_used,omitempty"`
	BookingsFound int             `json:"bookings_found"`
	BookingsSaved int             `json:"bookings_saved"`
	RecordErrors  int             `json:"record_errors,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      []MethodAttempt `json:"attempts,omitempty"`
	Duration      time.Duration   `json:"-"`
}

type syncResultJSON struct {
	syncResultFields
	DurationMS int64 `json:"duration_ms"`
}

type syncResultFields SyncResult

// MarshalJSON writes Duration as whole milliseconds under duration_ms.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(syncResultJSON{syncResultFields(r), r.Duration.Milliseconds()})
}

func (r *SyncResult) UnmarshalJSON(data []byte) error {
	var v syncResultJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = SyncResult(v.syncResultFields)
	r.Duration = time.Duration(v.DurationMS) * time.Millisecond
	return nil
}
