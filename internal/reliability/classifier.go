package reliability

import "strings"

// NoticeCategory buckets user-facing consult call outcomes. Categories are
// inferred from vendor reason/error text and drive only the message shown to
// the user; the call is never auto-retried.
type NoticeCategory string

const (
	NoticeNetwork    NoticeCategory = "network"
	NoticeTimeout    NoticeCategory = "timeout"
	NoticeInactivity NoticeCategory = "inactivity"
	NoticeMicrophone NoticeCategory = "microphone"
	NoticeUnknown    NoticeCategory = "unknown"
)

// ClassifyEndReason buckets a graceful call-end reason.
func ClassifyEndReason(reason string) NoticeCategory {
	r := strings.ToLower(reason)
	switch {
	case containsAny(r, "silence", "inactiv", "no-input", "no input"):
		return NoticeInactivity
	case containsAny(r, "timeout", "timed out", "deadline"):
		return NoticeTimeout
	case containsAny(r, "network", "connection", "socket", "disconnect"):
		return NoticeNetwork
	default:
		return NoticeUnknown
	}
}

// ClassifyTransportError buckets a vendor-reported transport error.
func ClassifyTransportError(detail string) NoticeCategory {
	d := strings.ToLower(detail)
	switch {
	case containsAny(d, "microphone", "mic ", "permission", "audio device", "not allowed"):
		return NoticeMicrophone
	case containsAny(d, "timeout", "timed out", "deadline"):
		return NoticeTimeout
	case containsAny(d, "network", "connection", "socket", "unreachable", "reset"):
		return NoticeNetwork
	default:
		return NoticeUnknown
	}
}

// NoticeMessage returns the user-facing text for a category.
func NoticeMessage(cat NoticeCategory) string {
	switch cat {
	case NoticeInactivity:
		return "The call ended after a period of silence."
	case NoticeTimeout:
		return "The call timed out. Please try again."
	case NoticeNetwork:
		return "The call was interrupted by a network problem."
	case NoticeMicrophone:
		return "We could not access your microphone. Check browser permissions and try again."
	default:
		return "The call ended unexpectedly."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
