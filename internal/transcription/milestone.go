package transcription

import "strings"

// Milestone is a coarse progress signal inferred from engine output.
// It only ever refreshes a job's message, never its status.
type Milestone int

const (
	// MilestoneLoading is reported by the runner once the engine process has started.
	MilestoneLoading Milestone = iota + 1
	MilestoneDetecting
	MilestoneTranscribing
)

// Status messages written to the job record as it moves through its lifecycle.
const (
	MsgQueued        = "Job queued"
	MsgInitializing  = "Initializing AI transcription engine..."
	MsgLoading       = "AI Model loading... (This may take a minute)"
	MsgDetecting     = "Analyzing audio and detecting language..."
	MsgTranscribing  = "Audio analysis complete. Transcribing..."
	MsgCompleted     = "Success! Transcription finalized."
	MsgInterrupted   = "Interrupted by service restart"
	msgOutputDirFail = "Could not create output directory"
)

func (m Milestone) String() string {
	switch m {
	case MilestoneLoading:
		return "loading"
	case MilestoneDetecting:
		return "detecting"
	case MilestoneTranscribing:
		return "transcribing"
	}
	return "unknown"
}

// Message is the status text shown to clients for m.
func (m Milestone) Message() string {
	switch m {
	case MilestoneLoading:
		return MsgLoading
	case MilestoneDetecting:
		return MsgDetecting
	case MilestoneTranscribing:
		return MsgTranscribing
	}
	return ""
}

// MilestoneParser turns one line of engine output into an optional milestone.
// Implementations may keep per-run state; use a fresh parser for every run.
type MilestoneParser interface {
	Parse(line string) (Milestone, bool)
}

// lineHeuristic matches the progress lines printed by the whisper CLI.
// "detecting language" is reported at most once per run; "transcribing" may repeat.
type lineHeuristic struct {
	detected bool
}

// NewLineHeuristic returns the substring-matching parser used by ExecRunner.
func NewLineHeuristic() MilestoneParser {
	return &lineHeuristic{}
}

func (p *lineHeuristic) Parse(line string) (Milestone, bool) {
	lower := strings.ToLower(line)
	if !p.detected && strings.Contains(lower, "detecting language") {
		p.detected = true
		return MilestoneDetecting, true
	}
	if strings.Contains(lower, "transcribing") {
		return MilestoneTranscribing, true
	}
	return 0, false
}
