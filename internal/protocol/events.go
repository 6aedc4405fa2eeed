// Package protocol parses the realtime voice vendor's event stream into a
// tagged union once, at the boundary, so downstream reconciliation never has
// to guard against missing fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/teleclinic/consultvoice/internal/transcript"
)

var (
	ErrUnsupportedType = errors.New("unsupported session event type")
	ErrNoUsableText    = errors.New("session message carries no usable text")
	ErrSystemSpeaker   = errors.New("system speaker produces no transcript")
)

// SpeechStart marks the beginning of a speech burst for one speaker.
type SpeechStart struct {
	Speaker transcript.Speaker
}

// SpeechEnd marks the end of a speech burst for one speaker.
type SpeechEnd struct {
	Speaker transcript.Speaker
}

// Message carries a partial or final transcription hypothesis. Text is the
// entire current hypothesis for the burst, never a fragment.
type Message struct {
	Speaker transcript.Speaker
	Text    string
	IsFinal bool
}

// CallEnd signals graceful termination, with the vendor's reason when given.
type CallEnd struct {
	Reason string
}

// SessionError signals a transport-level failure reported by the vendor.
type SessionError struct {
	Code   string
	Detail string
}

// rawEvent accepts every field alias the vendor stream has been observed to
// use. All fields are optional here; validation happens in ParseSessionEvent.
type rawEvent struct {
	Type           string `json:"type"`
	Speaker        string `json:"speaker"`
	Role           string `json:"role"`
	Transcript     string `json:"transcript"`
	Text           string `json:"text"`
	Message        string `json:"message"`
	TranscriptType string `json:"transcriptType"`
	IsFinal        *bool  `json:"isFinal"`
	IsFinalSnake   *bool  `json:"is_final"`
	Reason         string `json:"reason"`
	EndedReason    string `json:"endedReason"`
	Code           string `json:"code"`
	Err            string `json:"error"`
	Detail         string `json:"detail"`
}

// ParseSessionEvent decodes one raw vendor event into a tagged union value:
// SpeechStart, SpeechEnd, Message, CallEnd or SessionError.
func ParseSessionEvent(data []byte) (any, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid session event: %w", err)
	}

	switch normalizeType(raw.Type) {
	case "speech-start":
		sp, ok := speakerOf(raw)
		if !ok {
			return nil, ErrSystemSpeaker
		}
		return SpeechStart{Speaker: sp}, nil
	case "speech-end":
		sp, ok := speakerOf(raw)
		if !ok {
			return nil, ErrSystemSpeaker
		}
		return SpeechEnd{Speaker: sp}, nil
	case "message", "transcript":
		sp, ok := speakerOf(raw)
		if !ok {
			return nil, ErrSystemSpeaker
		}
		text := firstNonEmpty(raw.Transcript, raw.Text, raw.Message)
		if strings.TrimSpace(text) == "" {
			return nil, ErrNoUsableText
		}
		return Message{Speaker: sp, Text: text, IsFinal: isFinalOf(raw)}, nil
	case "call-end", "end-of-call-report", "hangup":
		return CallEnd{Reason: firstNonEmpty(raw.EndedReason, raw.Reason, raw.Detail)}, nil
	case "error":
		return SessionError{
			Code:   firstNonEmpty(raw.Code, "error"),
			Detail: firstNonEmpty(raw.Err, raw.Detail, raw.Message),
		}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.ReplaceAll(t, "_", "-")
}

func speakerOf(raw rawEvent) (transcript.Speaker, bool) {
	return transcript.ParseSpeaker(firstNonEmpty(raw.Speaker, raw.Role))
}

func isFinalOf(raw rawEvent) bool {
	if raw.IsFinal != nil {
		return *raw.IsFinal
	}
	if raw.IsFinalSnake != nil {
		return *raw.IsFinalSnake
	}
	return strings.EqualFold(strings.TrimSpace(raw.TranscriptType), "final")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
