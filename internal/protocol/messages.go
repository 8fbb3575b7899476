package protocol

import "time"

// AudioFrame carries 16-bit little-endian PCM published by a remote capture
// device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
}

// Segment is a normalized recognized utterance as appended to the display.
type Segment struct {
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	Raw        string    `json:"raw"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Deletion reports a span the editor removed from the display.
type Deletion struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Promotion reports a phrase entering the suppression set.
type Promotion struct {
	SessionID string    `json:"session_id"`
	Phrase    string    `json:"phrase"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Command is a control request sent to the dictation session.
type Command struct {
	Action string `json:"action"`
	Path   string `json:"path,omitempty"`
	Text   string `json:"text,omitempty"`
}

// CommandReply answers a Command.
type CommandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	State string `json:"state,omitempty"`
	Text  string `json:"text,omitempty"`
	// Suppressed maps promoted phrases to their deletion count at promotion.
	Suppressed map[string]int `json:"suppressed,omitempty"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectSegment          = "dictate.segment"
	SubjectDeletion         = "dictate.deletion"
	SubjectPromotion        = "dictate.promotion"
	SubjectCommand          = "dictate.command"
)

const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionSave   = "save"
	ActionDelete = "delete"
	ActionStatus = "status"
)
