package reliability

import "testing"

func TestClassifyEndReason(t *testing.T) {
	cases := []struct {
		reason string
		want   NoticeCategory
	}{
		{"silence-timed-out", NoticeInactivity},
		{"customer did not respond, inactivity limit", NoticeInactivity},
		{"pipeline timeout exceeded", NoticeTimeout},
		{"Network connection lost", NoticeNetwork},
		{"customer-ended-call", NoticeUnknown},
		{"", NoticeUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyEndReason(tc.reason); got != tc.want {
			t.Fatalf("ClassifyEndReason(%q) = %q, want %q", tc.reason, got, tc.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		detail string
		want   NoticeCategory
	}{
		{"microphone permission denied", NoticeMicrophone},
		{"NotAllowedError: audio device busy", NoticeMicrophone},
		{"websocket read timed out", NoticeTimeout},
		{"connection reset by peer", NoticeNetwork},
		{"host unreachable", NoticeNetwork},
		{"internal vendor fault", NoticeUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyTransportError(tc.detail); got != tc.want {
			t.Fatalf("ClassifyTransportError(%q) = %q, want %q", tc.detail, got, tc.want)
		}
	}
}

func TestNoticeMessageNeverEmpty(t *testing.T) {
	for _, cat := range []NoticeCategory{NoticeNetwork, NoticeTimeout, NoticeInactivity, NoticeMicrophone, NoticeUnknown, "made-up"} {
		if NoticeMessage(cat) == "" {
			t.Fatalf("NoticeMessage(%q) = empty", cat)
		}
	}
}
