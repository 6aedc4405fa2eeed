package callsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleclinic/consultvoice/internal/observability"
	"github.com/teleclinic/consultvoice/internal/protocol"
	"github.com/teleclinic/consultvoice/internal/reliability"
	"github.com/teleclinic/consultvoice/internal/transcript"
)

// State is the lifecycle state of one consult call.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateEnding   State = "ending"
)

var (
	ErrNotIdle      = errors.New("call already in progress")
	ErrStartAborted = errors.New("call stopped before vendor start completed")
)

const endTimeout = 5 * time.Second

// Notice is a recoverable, user-facing call outcome raised on transport
// errors and unexpected terminations.
type Notice struct {
	Category reliability.NoticeCategory `json:"category"`
	Message  string                     `json:"message"`
	Detail   string                     `json:"detail,omitempty"`
}

// Controller drives one consult call against the external voice vendor:
// it owns the transcript log and reconciler for the call's lifetime, routes
// vendor events into them, keeps the transport alive while active, and
// tears everything down on stop, call-end or error. Construct one per call
// and discard it when the call is done.
type Controller struct {
	mu    sync.Mutex
	state State
	epoch uint64

	provider Provider
	handle   CallHandle

	rec  *transcript.Reconciler
	tlog *transcript.Log

	keepAliveEvery  time.Duration
	cancelKeepAlive context.CancelFunc
	eventsDone      chan struct{}

	notice        *Notice
	speakerActive map[transcript.Speaker]bool

	endHook func()

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewController(
	provider Provider,
	tlog *transcript.Log,
	rec *transcript.Reconciler,
	keepAliveEvery time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Controller {
	if keepAliveEvery <= 0 {
		keepAliveEvery = 20 * time.Second
	}
	return &Controller{
		state:          StateIdle,
		provider:       provider,
		rec:            rec,
		tlog:           tlog,
		keepAliveEvery: keepAliveEvery,
		speakerActive:  make(map[transcript.Speaker]bool),
		metrics:        metrics,
		logger:         logger,
	}
}

// SetEndHook registers a callback invoked exactly once per call, after
// teardown completes on any path (stop, call-end, error, stream close).
// The transcript log is stable when the hook runs.
func (c *Controller) SetEndHook(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endHook = hook
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notice returns the user-facing outcome of the last call, if any.
func (c *Controller) Notice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == nil {
		return nil
	}
	n := *c.notice
	return &n
}

// Transcript exposes the call's transcript log. Consumers are read-only;
// the reconciler is the sole writer.
func (c *Controller) Transcript() *transcript.Log {
	return c.tlog
}

func (c *Controller) AssistantComposing() bool {
	return c.rec.AssistantComposing()
}

// SpeakerActive reports whether a speech burst is currently open for the
// speaker, per the vendor's speech-start/speech-end signals.
func (c *Controller) SpeakerActive(sp transcript.Speaker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakerActive[sp]
}

// Start begins a new vendor call. It is a guarded no-op unless the
// controller is Idle. Per-call state from any previous call (buffers,
// pending commits, transcript, notice) is cleared before the vendor start
// command is issued; on start failure the controller reverts to Idle with
// no partial session left behind.
func (c *Controller) Start(ctx context.Context, cfg CallConfig) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateStarting
	c.epoch++
	epoch := c.epoch
	c.notice = nil
	c.mu.Unlock()

	c.rec.Reset()
	c.tlog.Clear()

	handle, events, err := c.provider.StartCall(ctx, cfg)
	if err != nil {
		c.mu.Lock()
		if c.state == StateStarting && c.epoch == epoch {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.metrics.ObserveCallEvent("start_failed")
		return fmt.Errorf("start call: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.state != StateStarting || c.epoch != epoch {
		// Stopped while the vendor start was in flight. The session must
		// not come up behind the stop.
		c.mu.Unlock()
		cancel()
		endCtx, endCancel := context.WithTimeout(context.Background(), endTimeout)
		_ = handle.End(endCtx)
		endCancel()
		c.metrics.ObserveCallEvent("start_aborted")
		return ErrStartAborted
	}
	c.handle = handle
	c.state = StateActive
	c.cancelKeepAlive = cancel
	c.eventsDone = done
	c.mu.Unlock()

	go c.keepAliveLoop(kaCtx, handle)
	go c.eventLoop(events, done, epoch)

	c.metrics.ObserveCallEvent("started")
	c.logger.Info().Str("voice", cfg.VoiceID).Str("model", cfg.ModelID).Msg("call started")
	return nil
}

// Stop hangs up the vendor call and returns the controller to Idle. It is a
// no-op when no call is in progress. The transcript log is kept in memory
// for readers until the next Start.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateStarting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateEnding
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	var err error
	if handle != nil {
		err = handle.End(ctx)
	}
	c.finish(nil, "stopped")
	return err
}

func (c *Controller) eventLoop(events <-chan any, done chan struct{}, epoch uint64) {
	defer close(done)
	for ev := range events {
		c.dispatch(ev, epoch)
	}
	// The vendor closed the stream without reporting call-end. Treat it as
	// a transport failure if the call is still supposed to be live.
	c.mu.Lock()
	interrupted := c.epoch == epoch && (c.state == StateActive || c.state == StateStarting)
	c.mu.Unlock()
	if interrupted {
		cat := reliability.NoticeNetwork
		c.finish(&Notice{
			Category: cat,
			Message:  reliability.NoticeMessage(cat),
			Detail:   "event stream closed",
		}, "stream_closed")
	}
}

// dispatch routes one vendor event. It never lets a failure escape back
// into the provider's read loop: a panicking handler would otherwise kill
// the whole call.
func (c *Controller) dispatch(ev any, epoch uint64) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.ObserveDroppedEvent("handler_panic")
			c.logger.Error().Interface("panic", r).Msg("event handler panic recovered")
		}
	}()

	c.mu.Lock()
	if c.epoch != epoch || (c.state != StateActive && c.state != StateStarting) {
		c.mu.Unlock()
		c.metrics.ObserveDroppedEvent("stale_call")
		return
	}
	c.mu.Unlock()

	switch e := ev.(type) {
	case protocol.SpeechStart:
		c.setSpeakerActive(e.Speaker, true)
		c.rec.OnSpeechStart(e.Speaker)
	case protocol.SpeechEnd:
		c.setSpeakerActive(e.Speaker, false)
	case protocol.Message:
		c.rec.OnMessage(e.Speaker, e.Text, e.IsFinal)
	case protocol.CallEnd:
		c.logger.Info().Str("reason", e.Reason).Msg("call ended by vendor")
		var n *Notice
		if e.Reason != "" {
			cat := reliability.ClassifyEndReason(e.Reason)
			n = &Notice{Category: cat, Message: reliability.NoticeMessage(cat), Detail: e.Reason}
		}
		c.finish(n, "ended")
	case protocol.SessionError:
		c.logger.Warn().Str("code", e.Code).Str("detail", e.Detail).Msg("vendor session error")
		cat := reliability.ClassifyTransportError(e.Detail)
		c.finish(&Notice{Category: cat, Message: reliability.NoticeMessage(cat), Detail: e.Detail}, "failed")
	default:
		c.metrics.ObserveDroppedEvent("unknown_event")
		c.logger.Debug().Type("event", ev).Msg("unhandled session event dropped")
	}
}

// finish tears down per-call state and returns to Idle. Idempotent per
// call: the first caller wins, later callers see Idle and return. The
// transcript log survives for readers; buffers, pending debounce commits
// and the last-speaker marker do not.
func (c *Controller) finish(n *Notice, event string) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.epoch++
	if c.cancelKeepAlive != nil {
		c.cancelKeepAlive()
		c.cancelKeepAlive = nil
	}
	handle := c.handle
	c.handle = nil
	if n != nil {
		c.notice = n
	}
	c.speakerActive = make(map[transcript.Speaker]bool)
	hook := c.endHook
	c.mu.Unlock()

	c.rec.Reset()

	if handle != nil {
		endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
		_ = handle.End(endCtx)
		cancel()
	}

	c.metrics.ObserveCallEvent(event)
	c.logger.Info().Str("event", event).Int("entries", c.tlog.Len()).Msg("call torn down")

	if hook != nil {
		hook()
	}
}

func (c *Controller) keepAliveLoop(ctx context.Context, handle CallHandle) {
	ticker := time.NewTicker(c.keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handle.KeepAlive(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("keep-alive failed")
				continue
			}
			c.metrics.ObserveKeepAlive()
		}
	}
}

func (c *Controller) setSpeakerActive(sp transcript.Speaker, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakerActive[sp] = active
}
