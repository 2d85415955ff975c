package model

// JobState represents the lifecycle state of a job
type JobState string

const (
	// JobStateQueued means the job waits for a free concurrency slot
	JobStateQueued JobState = "Queued"

	// JobStateProbing means the metadata probe is running
	JobStateProbing JobState = "Probing"

	// JobStateTransferring means the transfer process is running
	JobStateTransferring JobState = "Transferring"

	// JobStateMerging means the transfer process is assembling the container
	// (merging formats or embedding subtitles)
	JobStateMerging JobState = "Merging"

	// JobStateConverting means the post-download conversion is running
	JobStateConverting JobState = "Converting"

	// JobStateDone means the job finished successfully
	JobStateDone JobState = "Done"

	// JobStateFailed means the job failed
	JobStateFailed JobState = "Failed"

	// JobStateCancelled means the job was stopped by the user
	JobStateCancelled JobState = "Cancelled"
)

// allowedTransitions lists the forward edges of the lifecycle. Failed and
// Cancelled are reachable from every non-terminal state.
var allowedTransitions = map[JobState][]JobState{
	JobStateQueued:       {JobStateProbing},
	JobStateProbing:      {JobStateTransferring},
	JobStateTransferring: {JobStateMerging, JobStateConverting, JobStateDone},
	JobStateMerging:      {JobStateConverting, JobStateDone},
	JobStateConverting:   {JobStateDone},
}

// String returns the string representation of JobState
func (s JobState) String() string {
	return string(s)
}

// IsActive returns true if the job occupies a concurrency slot
func (s JobState) IsActive() bool {
	switch s {
	case JobStateProbing, JobStateTransferring, JobStateMerging, JobStateConverting:
		return true
	}
	return false
}

// IsTerminal returns true if the job reached Done, Failed or Cancelled
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed || s == JobStateCancelled
}

// CanTransition reports whether a job may move from s to next.
func (s JobState) CanTransition(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStateFailed || next == JobStateCancelled {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
