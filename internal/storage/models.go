package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ChunkRecord is one persisted knowledge chunk. Embedding holds the
// little-endian float32 encoding produced by the knowledge package.
type ChunkRecord struct {
	ID         string
	Source     string
	SourceType string
	ChunkIndex int
	Content    string
	Embedding  []byte
	CreatedAt  time.Time
}

// Source is a registry entry for an ingested document or URL.
type Source struct {
	Name       string
	Type       string // "file", "url", "text"
	Size       int64
	Chunks     int
	UploadedAt time.Time
	Summary    string
	// SuggestedQuestions are starter questions generated from the content.
	SuggestedQuestions []string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// JobStats counts jobs per status.
type JobStats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}
