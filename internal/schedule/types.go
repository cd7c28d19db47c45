package schedule

import (
	"time"
)

// Duration is a session length in minutes. The remote surface only accepts
// the three fixed lengths below.
type Duration int

const (
	Duration25 Duration = 25
	Duration50 Duration = 50
	Duration75 Duration = 75
)

// SupportedDurations lists every session length the remote surface accepts.
var SupportedDurations = []Duration{Duration25, Duration50, Duration75}

// Valid reports whether d is one of the supported session lengths.
func (d Duration) Valid() bool {
	switch d {
	case Duration25, Duration50, Duration75:
		return true
	}
	return false
}

// Length returns the duration as a time.Duration.
func (d Duration) Length() time.Duration {
	return time.Duration(d) * time.Minute
}

// Status is the lifecycle state of a session as reported by (or derived for)
// the remote surface.
type Status string

const (
	StatusPending    Status = "pending"
	StatusMatched    Status = "matched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ParseStatus normalizes a remote-reported status string into the enum.
// The second return is false when the string is not a recognized status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusMatched, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), true
	}
	return "", false
}

// BookingRequest describes one session the caller wants to book.
type BookingRequest struct {
	StartTime time.Time `json:"start_time"`
	Duration  Duration  `json:"duration"`
}

// EndTime derives the session end from start + duration.
func (r BookingRequest) EndTime() time.Time {
	return r.StartTime.Add(r.Duration.Length())
}

// SessionRecord is one session as seen by the remote surface. ID is
// remote-assigned and may be synthetic when the surface does not expose one.
type SessionRecord struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  Duration  `json:"duration"`
	Status    Status    `json:"status"`
	Partner   string    `json:"partner,omitempty"`
	Title     string    `json:"title,omitempty"`
}

// DateRange bounds a history query. End is inclusive of sessions starting
// before it.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether a session starting at t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Confirmation acknowledges a completed cancellation.
type Confirmation struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// CookieRecord is one browser cookie inside a credential snapshot.
type CookieRecord struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Credential is the opaque authenticated-session artifact: the cookie jar and
// localStorage snapshot captured from an authenticated page. It is replaced
// whole on re-authentication, never mutated in place.
type Credential struct {
	CreatedAt    time.Time      `json:"created_at"`
	Cookies      []CookieRecord `json:"cookies"`
	LocalStorage string         `json:"local_storage,omitempty"`
}

// DeriveStatus picks the status for a session. A recognized remote-reported
// status wins verbatim; otherwise status is a pure function of the clock and
// whether a partner has been assigned.
func DeriveStatus(now, start, end time.Time, remote, partner string) Status {
	if st, ok := ParseStatus(remote); ok {
		return st
	}
	switch {
	case now.Before(start):
		if partner != "" {
			return StatusMatched
		}
		return StatusPending
	case now.Before(end):
		return StatusInProgress
	default:
		return StatusCompleted
	}
}
