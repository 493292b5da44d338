package logger

// Kind is the type of a logged event.
type Kind string

const (
	// KindLaunch is logged when a pipeline's process group is created.
	KindLaunch Kind = "launch"
	// KindLaunchError is logged when a stage of a pipeline couldn't start.
	KindLaunchError Kind = "launch_error"
	// KindSyntaxError is logged for lines the parser rejected.
	KindSyntaxError Kind = "syntax_error"
	// KindStop is logged when a foreground job is stopped.
	KindStop Kind = "stop"
	// KindDone is logged when a job finishes.
	KindDone Kind = "done"
	// KindResume is logged when a stopped job is continued by fg or bg.
	KindResume Kind = "resume"
	// KindKilled is logged when the shell kills a job.
	KindKilled Kind = "killed"
)

// LogEntry is a single event in the log.
type LogEntry struct {
	TimestampMicros int64  `json:"timestamp_micros"`
	SessionID       string `json:"session_id,omitempty"`
	Kind            Kind   `json:"kind"`

	// Pgid is the process group the event is about.
	Pgid int `json:"pgid,omitempty"`
	// Name is the job's display name.
	Name string `json:"name,omitempty"`
	// Command is the canonical form of the pipeline.
	Command string `json:"command,omitempty"`
	// Background is set for jobs launched with '&'.
	Background bool `json:"background,omitempty"`
	// Statuses holds per-stage exit statuses of finished pipelines.
	Statuses []int `json:"statuses,omitempty"`
	// Error holds the error message for failures.
	Error string `json:"error,omitempty"`
}
