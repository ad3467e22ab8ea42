package models

import "time"

// SessionStatus represents the lifecycle state of a driver session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusError     SessionStatus = "ERROR"
	StatusTimedOut  SessionStatus = "TIMED_OUT"
)

// Session describes a hosted driver session
type Session struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId"`
	Status    SessionStatus `json:"status"`
	Backend   string        `json:"backend"`
	StartedAt time.Time     `json:"startedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Timeout   int           `json:"timeout"`
	ProfileID string        `json:"profileId,omitempty"`
	Settings  Settings      `json:"settings"`
	Dirs      Dirs          `json:"-"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	ProjectID string    `json:"projectId"`
	Backend   string    `json:"backend,omitempty"`
	Timeout   int       `json:"timeout,omitempty"`
	ProfileID string    `json:"profileId,omitempty"`
	Settings  *Settings `json:"settings,omitempty"`
	// Eager starts the engine during creation instead of on the first command.
	Eager bool `json:"eager,omitempty"`
}

// NavigateRequest is the payload for POST /v1/sessions/{id}/navigate
type NavigateRequest struct {
	URL string `json:"url"`
}

// NavigateResponse reports where a navigation ended up
type NavigateResponse struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// ProjectUsage tracks resource consumption for a project
type ProjectUsage struct {
	ProjectID      string `json:"projectId"`
	ActiveSessions int    `json:"activeSessions"`
	TotalSessions  int    `json:"totalSessions"`
}
