package domain

import "time"

// Artifact is a derived image. Stored artifacts are never mutated; callers
// that need to modify Data must copy it first.
type Artifact struct {
	Key         string
	ContentType string
	Data        []byte
	Width       int
	Height      int
	CreatedAt   time.Time
}
