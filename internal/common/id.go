package common

import "github.com/google/uuid"

// NewID returns a globally unique, URL-safe identifier suitable for
// job_id, page_id and similar entity identities.
func NewID() string {
	return uuid.New().String()
}
