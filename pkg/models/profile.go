package models

import "time"

// Profile is a persisted browser user-data directory that sessions can
// start from and save back into.
type Profile struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	DataPath  string    `json:"-"` // archive location, internal only
}

// CreateProfileRequest is the payload for creating a profile
type CreateProfileRequest struct {
	ProjectID string `json:"projectId"`
}
