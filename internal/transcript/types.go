package transcript

import (
	"strings"
	"time"
)

// Speaker identifies which side of the consult produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ParseSpeaker maps an upstream role string onto a Speaker. The system role
// never produces transcript entries, so it reports ok=false; any other
// unrecognized or missing role falls back to the assistant.
func ParseSpeaker(raw string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "patient", "human", "caller":
		return SpeakerUser, true
	case "system":
		return "", false
	default:
		return SpeakerAssistant, true
	}
}

// Entry is one row of the consult transcript. Its ID and Speaker are fixed at
// creation; Content, IsFinal and UpdatedAt may be replaced in place while the
// entry remains the open tail of its speaker's turn.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
