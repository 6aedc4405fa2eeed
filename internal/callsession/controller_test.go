package callsession

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleclinic/consultvoice/internal/protocol"
	"github.com/teleclinic/consultvoice/internal/reliability"
	"github.com/teleclinic/consultvoice/internal/transcript"
)

func newTestController(t *testing.T, provider Provider) (*Controller, *transcript.Log) {
	t.Helper()
	tlog := transcript.NewLog()
	rec := transcript.NewReconciler(tlog, 20*time.Millisecond, nil, zerolog.Nop())
	ctl := NewController(provider, tlog, rec, 25*time.Millisecond, nil, zerolog.Nop())
	return ctl, tlog
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestStartRoutesEventsIntoTranscript(t *testing.T) {
	mp := NewMockProvider()
	ctl, tlog := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if got := ctl.State(); got != StateActive {
		t.Fatalf("State = %q, want active", got)
	}

	call := mp.LastCall()
	call.Emit(protocol.SpeechStart{Speaker: transcript.SpeakerUser})
	call.Emit(protocol.Message{Speaker: transcript.SpeakerUser, Text: "my knee hurts", IsFinal: true})

	waitFor(t, func() bool { return tlog.Len() == 1 }, "transcript entry")
	last, _ := tlog.Last()
	if last.Content != "my knee hurts" || last.Speaker != transcript.SpeakerUser {
		t.Fatalf("entry = %+v, want user final", last)
	}

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
}

func TestStartGuardedWhileInProgress(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if err := ctl.Start(context.Background(), CallConfig{}); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("second Start error = %v, want ErrNotIdle", err)
	}
	if mp.CallCount() != 1 {
		t.Fatalf("CallCount = %d, want 1", mp.CallCount())
	}
	_ = ctl.Stop(context.Background())
}

func TestStartFailureRevertsToIdle(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	mp.FailNextStart(errors.New("vendor unavailable"))
	if err := ctl.Start(context.Background(), CallConfig{}); err == nil {
		t.Fatalf("Start succeeded, want vendor error")
	}
	if got := ctl.State(); got != StateIdle {
		t.Fatalf("State = %q after failed start, want idle", got)
	}

	// A failed start leaves nothing behind; the next attempt works.
	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start after failure error = %v", err)
	}
	_ = ctl.Stop(context.Background())
}

func TestStopTearsDownAndPreservesTranscript(t *testing.T) {
	mp := NewMockProvider()
	ctl, tlog := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	call := mp.LastCall()
	call.Emit(protocol.Message{Speaker: transcript.SpeakerUser, Text: "keep this", IsFinal: true})
	waitFor(t, func() bool { return tlog.Len() == 1 }, "transcript entry")

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if got := ctl.State(); got != StateIdle {
		t.Fatalf("State = %q after Stop, want idle", got)
	}
	if !call.Ended() {
		t.Fatalf("vendor call not ended on Stop")
	}
	if tlog.Len() != 1 {
		t.Fatalf("entries = %d after Stop, want transcript preserved", tlog.Len())
	}

	// The next Start owns a fresh transcript.
	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if tlog.Len() != 0 {
		t.Fatalf("entries = %d after restart, want 0", tlog.Len())
	}
	_ = ctl.Stop(context.Background())
}

func TestVendorCallEndSetsNotice(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	mp.LastCall().Emit(protocol.CallEnd{Reason: "silence-timed-out"})

	waitFor(t, func() bool { return ctl.State() == StateIdle }, "idle after vendor call-end")
	n := ctl.Notice()
	if n == nil {
		t.Fatalf("Notice = nil, want inactivity notice")
	}
	if n.Category != reliability.NoticeInactivity {
		t.Fatalf("Category = %q, want inactivity", n.Category)
	}
	if n.Message == "" {
		t.Fatalf("notice has no user-facing message")
	}
}

func TestSessionErrorTearsDownWithNotice(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	call := mp.LastCall()
	call.Emit(protocol.SessionError{Code: "ws", Detail: "connection reset by peer"})

	waitFor(t, func() bool { return ctl.State() == StateIdle }, "idle after session error")
	if !call.Ended() {
		t.Fatalf("vendor call not ended after session error")
	}
	n := ctl.Notice()
	if n == nil || n.Category != reliability.NoticeNetwork {
		t.Fatalf("Notice = %+v, want network category", n)
	}
}

func TestStreamCloseTreatedAsInterruption(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	mp.LastCall().CloseStream()

	waitFor(t, func() bool { return ctl.State() == StateIdle }, "idle after stream close")
	n := ctl.Notice()
	if n == nil || n.Category != reliability.NoticeNetwork {
		t.Fatalf("Notice = %+v, want network category after stream close", n)
	}
}

func TestEndHookRunsOncePerCall(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	var hooks atomic.Int32
	ctl.SetEndHook(func() { hooks.Add(1) })

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	call := mp.LastCall()
	call.Emit(protocol.CallEnd{})
	waitFor(t, func() bool { return ctl.State() == StateIdle }, "idle after call-end")

	// Stop after teardown must not fire the hook again.
	_ = ctl.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)
	if got := hooks.Load(); got != 1 {
		t.Fatalf("end hook ran %d times, want 1", got)
	}
}

func TestKeepAliveTicksWhileActive(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	call := mp.LastCall()
	waitFor(t, func() bool { return call.KeepAliveCount() >= 2 }, "keep-alive pings")

	_ = ctl.Stop(context.Background())
	settled := call.KeepAliveCount()
	time.Sleep(100 * time.Millisecond)
	if got := call.KeepAliveCount(); got != settled {
		t.Fatalf("keep-alive kept ticking after Stop: %d -> %d", settled, got)
	}
}

// slowStartProvider blocks StartCall until released so tests can land a
// Stop while a start is in flight.
type slowStartProvider struct {
	inner   *MockProvider
	entered chan struct{}
	release chan struct{}
}

func (p *slowStartProvider) StartCall(ctx context.Context, cfg CallConfig) (CallHandle, <-chan any, error) {
	close(p.entered)
	<-p.release
	return p.inner.StartCall(ctx, cfg)
}

func TestStopDuringStartDoesNotResurrect(t *testing.T) {
	mp := NewMockProvider()
	sp := &slowStartProvider{inner: mp, entered: make(chan struct{}), release: make(chan struct{})}
	ctl, _ := newTestController(t, sp)

	startErr := make(chan error, 1)
	go func() {
		startErr <- ctl.Start(context.Background(), CallConfig{})
	}()

	<-sp.entered
	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if got := ctl.State(); got != StateIdle {
		t.Fatalf("State = %q after Stop, want idle", got)
	}
	close(sp.release)

	if err := <-startErr; !errors.Is(err, ErrStartAborted) {
		t.Fatalf("Start error = %v, want ErrStartAborted", err)
	}
	if got := ctl.State(); got != StateIdle {
		t.Fatalf("State = %q after aborted start, want idle", got)
	}
	waitFor(t, func() bool {
		call := mp.LastCall()
		return call != nil && call.Ended()
	}, "vendor call ended after aborted start")
}

func TestSpeakerActiveTracksBursts(t *testing.T) {
	mp := NewMockProvider()
	ctl, _ := newTestController(t, mp)

	if err := ctl.Start(context.Background(), CallConfig{}); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	call := mp.LastCall()

	call.Emit(protocol.SpeechStart{Speaker: transcript.SpeakerUser})
	waitFor(t, func() bool { return ctl.SpeakerActive(transcript.SpeakerUser) }, "speaker active")

	call.Emit(protocol.SpeechEnd{Speaker: transcript.SpeakerUser})
	waitFor(t, func() bool { return !ctl.SpeakerActive(transcript.SpeakerUser) }, "speaker inactive")

	_ = ctl.Stop(context.Background())
}
