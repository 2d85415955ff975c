package model

import (
	"strings"
	"time"
)

// FailureReason is attached to failed jobs
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonProbeFailed      FailureReason = "probe_failed"
	ReasonTransferFailed   FailureReason = "transfer_failed"
	ReasonConversionFailed FailureReason = "conversion_failed"
)

// Progress is the last progress reading of a job
type Progress struct {
	Percent   float64 // 0 to 100 across the whole job
	Speed     string  // human readable speed (e.g., "1.2MiB/s")
	ETA       string  // as reported by the transfer tool
	Phase     string  // current sub-phase name
	Component int     // 1-based index of the stream being fetched, 0 if unknown
	Of        int     // announced stream count, 0 if unknown
}

// Snapshot is an immutable view of one job
type Snapshot struct {
	Key        string
	ID         string
	State      JobState
	Progress   Progress
	Metadata   Metadata
	OutputPath string
	LastLog    string
	Reason     FailureReason
	Detail     string
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is the terminal payload of a job
type Result struct {
	Key      string
	ID       string
	State    JobState
	Path     string
	Metadata Metadata
	Reason   FailureReason
	Detail   string
}

// Success reports whether the job ended in Done
func (r Result) Success() bool {
	return r.State == JobStateDone
}

// Failed builds a failed result with a reason and detail
func Failed(key, id string, reason FailureReason, detail string) Result {
	return Result{Key: key, ID: id, State: JobStateFailed, Reason: reason, Detail: detail}
}

// Cancelled builds a cancelled result; cancellation carries no detail
func Cancelled(key, id string) Result {
	return Result{Key: key, ID: id, State: JobStateCancelled}
}

// DisplayTitle returns title, filename, or key in order of preference
func (s Snapshot) DisplayTitle() string {
	if s.Metadata.Title != "" {
		return s.Metadata.Title
	}

	if s.OutputPath != "" {
		// support both / and \ separators
		parts := strings.FieldsFunc(s.OutputPath, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	return s.Key
}
