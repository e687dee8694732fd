package models

import (
	"io"
	"time"
)

// RunRecord is the persisted view of one run. Status holds only the latest
// progress report; each update overwrites the previous one.
type RunRecord struct {
	ID           string    `json:"id"`
	Stamp        int64     `json:"stamp"` // unix millis captured once per run, used in archive names
	TotalFiles   int       `json:"total_files"`
	BatchSize    int       `json:"batch_size"`
	TotalBatches int       `json:"total_batches"`
	State        RunState  `json:"state"`
	Status       string    `json:"status"`
	Callback     string    `json:"callback,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunRequest is the inbound trigger for a run
type RunRequest struct {
	URLs      []string `json:"urls" yaml:"urls"`
	BatchSize int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Callback  string   `json:"callback,omitempty" yaml:"callback,omitempty"`
}

// CallbackPayload is sent to the callback URL after a run completes
type CallbackPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	Message       string `json:"message,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	FileCount     int    `json:"file_count"`
	FailedCount   int    `json:"failed_count"`
	ArchiveCount  int    `json:"archive_count"`
	ArchivedBytes int64  `json:"archived_bytes"`
}

// ByteCounter wraps an io.Writer and counts bytes written
type ByteCounter struct {
	Writer io.Writer
	Count  int64
}

func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.Writer.Write(p)
	bc.Count += int64(n)
	return n, err
}
