package callsession

import "context"

// CallConfig carries the opaque session parameters handed to the external
// realtime voice vendor at call start. None of these are interpreted here.
type CallConfig struct {
	SystemPrompt string
	FirstMessage string
	VoiceID      string
	ModelID      string
}

// CallHandle is the control surface of one live vendor call.
type CallHandle interface {
	// KeepAlive sends a no-op signal to the transport so the vendor does
	// not drop the call as idle.
	KeepAlive(ctx context.Context) error
	// End asks the vendor to hang up and releases the handle. The event
	// channel returned by StartCall is closed afterwards.
	End(ctx context.Context) error
}

// Provider starts vendor calls. The returned channel delivers values of the
// tagged union in internal/protocol (SpeechStart, SpeechEnd, Message,
// CallEnd, SessionError) and is closed when the call's event stream ends.
type Provider interface {
	StartCall(ctx context.Context, cfg CallConfig) (CallHandle, <-chan any, error)
}
