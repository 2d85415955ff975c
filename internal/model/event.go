package model

// Event is one structured observation produced while a job runs. The concrete
// types below are the only implementations.
type Event interface {
	isEvent()
}

// LogLevel classifies a LogEvent
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Notice tags log events that callers may want to surface specially
type Notice string

const (
	// NoticePathTooLong means the output name was shortened to fit the path ceiling
	NoticePathTooLong Notice = "path_too_long"
)

// ProgressEvent carries one transfer progress reading
type ProgressEvent struct {
	Percent float64 // 0 to 100, relative to the current component
	Speed   string  // e.g. "1.20MiB/s", empty if unknown
	ETA     string  // e.g. "00:42", empty if unknown
}

// PhaseEvent announces a lifecycle phase signaled by the running process
type PhaseEvent struct {
	State JobState
	Phase string // human readable sub-phase
	Path  string // output path when the phase names one
}

// DestinationEvent announces a file the transfer process writes
type DestinationEvent struct {
	Path     string
	Subtitle bool // subtitle side file, not a media component
	Existing bool // file was already present and reused
}

// FormatsEvent lists the elementary stream formats a transfer will fetch
type FormatsEvent struct {
	Formats []string
}

// LogEvent is a free-text line from a process or a worker
type LogEvent struct {
	Level  LogLevel
	Line   string
	Notice Notice
}

// MetadataEvent reports probed metadata (title, thumbnail and friends)
type MetadataEvent struct {
	Metadata Metadata
}

func (ProgressEvent) isEvent()    {}
func (PhaseEvent) isEvent()       {}
func (DestinationEvent) isEvent() {}
func (FormatsEvent) isEvent()     {}
func (LogEvent) isEvent()         {}
func (MetadataEvent) isEvent()    {}
