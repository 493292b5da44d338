package logger

import (
	"encoding/json"
	"io"
	"sort"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var logEntry LogEntry
		if err := decoder.Decode(&logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	Sessions       StrCounter `json:"sessions"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Launch      LaunchReport      `json:"launch_report"`
	LaunchError LaunchErrorReport `json:"launch_error_report"`
	SyntaxError SyntaxErrorReport `json:"syntax_error_report"`
	Stop        JobReport         `json:"stop_report"`
	Done        DoneReport        `json:"done_report"`
	Resume      JobReport         `json:"resume_report"`
	Killed      JobReport         `json:"killed_report"`
}

// Update adds the entry to the report.
func (r *Report) Update(le *LogEntry) {
	r.LogEntries++
	if le.SessionID != "" {
		r.Sessions.Increment(le.SessionID)
	}

	switch le.Kind {
	case KindLaunch:
		r.Launch.update(le)
	case KindLaunchError:
		r.LaunchError.update(le)
	case KindSyntaxError:
		r.SyntaxError.update(le)
	case KindStop:
		r.Stop.update(le)
	case KindDone:
		r.Done.update(le)
	case KindResume:
		r.Resume.update(le)
	case KindKilled:
		r.Killed.update(le)
	default:
		r.InvalidEntries.Increment(string(le.Kind))
	}
}

type LaunchReport struct {
	Count      int        `json:"count"`
	Background int        `json:"background"`
	Names      StrCounter `json:"command_names"`
}

func (r *LaunchReport) update(le *LogEntry) {
	r.Count++
	if le.Background {
		r.Background++
	}
	r.Names.Increment(le.Name)
}

type LaunchErrorReport struct {
	Names  StrCounter `json:"command_names"`
	Errors StrCounter `json:"errors"`
}

func (r *LaunchErrorReport) update(le *LogEntry) {
	r.Names.Increment(le.Name)
	r.Errors.Increment(le.Error)
}

type SyntaxErrorReport struct {
	Messages StrCounter `json:"messages"`
}

func (r *SyntaxErrorReport) update(le *LogEntry) {
	r.Messages.Increment(le.Error)
}

// JobReport counts events about jobs by name.
type JobReport struct {
	Count int        `json:"count"`
	Names StrCounter `json:"command_names"`
}

func (r *JobReport) update(le *LogEntry) {
	r.Count++
	r.Names.Increment(le.Name)
}

type DoneReport struct {
	JobReport
	// Failures counts jobs with at least one non-zero stage.
	Failures int `json:"failures"`
}

func (r *DoneReport) update(le *LogEntry) {
	r.JobReport.update(le)
	for _, status := range le.Statuses {
		if status != 0 {
			r.Failures++
			break
		}
	}
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// Keys returns the counted strings in sorted order.
func (s *StrCounter) Keys() []string {
	var keys []string
	for k := range s.internal {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	if s.internal == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.internal)
}
