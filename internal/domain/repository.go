package domain

import "time"

// Repository is the registration record for a webhook source. Secret
// validates the X-Hub-Signature-256 header of its deliveries.
type Repository struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRepositoryRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}
