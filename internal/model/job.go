package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job kind constants. Each kind names the pipeline template that runs it.
const (
	KindFetch        = "fetch"
	KindTranscode    = "transcode"
	KindCompress     = "compress"
	KindExtractAudio = "extract_audio"
)

// Kinds lists every known job kind.
var Kinds = []string{KindFetch, KindTranscode, KindCompress, KindExtractAudio}

// ValidKind reports whether s names a known job kind.
func ValidKind(s string) bool {
	for _, k := range Kinds {
		if s == k {
			return true
		}
	}
	return false
}

// validTransitions maps each status to the set of statuses it may transition to.
// Succeeded and failed are absorbing: nothing leaves them.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusSucceeded: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a status is terminal.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Result references the output artifact of a succeeded job. Path is the
// on-disk location and never leaves the process; Filename is the
// caller-facing download name.
type Result struct {
	Path      string `json:"-"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// Failure is the classified error of a failed job. Kind is one of the fault
// kinds (validation, transient, permanent, exhausted, internal); Message is
// human-readable and never carries raw tool output.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Options carries the submission parameters a pipeline template consumes.
type Options struct {
	// URL is the source to fetch. Required for fetch jobs, ignored otherwise.
	URL string `json:"url,omitempty"`
	// Format selects the fetch output: "mp4" (default) or "mp3".
	Format string `json:"format,omitempty"`
	// Target is the container/codec target for transcode jobs (e.g. "webm").
	Target string `json:"target,omitempty"`
}

// Job represents one tracked unit of asynchronous media work. Result and
// Failure are mutually exclusive and set only at the terminal transition.
type Job struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Progress      float64    `json:"progress"`
	Stage         string     `json:"stage,omitempty"`
	Message       string     `json:"message,omitempty"`
	InputRef      string     `json:"input_ref,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	Failure       *Failure   `json:"failure,omitempty"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// TerminalState reports whether the job has reached a terminal status.
func (j *Job) TerminalState() bool {
	return Terminal(j.Status)
}
