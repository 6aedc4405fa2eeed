package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teleclinic/consultvoice/internal/observability"
)

// DefaultDebounce is the partial-commit coalescing window. Speech
// recognizers emit many superseding hypotheses per utterance; committing
// each one would flood the transcript, committing only finals would make
// the live view feel dead.
const DefaultDebounce = 300 * time.Millisecond

const (
	commitModeAppend = "append"
	commitModeMerge  = "merge"
)

// pendingCommit tags the scheduled-commit state for one speaker. A commit
// fires only if it is still the registered pending commit for its speaker,
// so a timer that races a cancel or a Reset is a no-op.
type pendingCommit struct {
	timer *time.Timer
}

// Reconciler turns the bursty partial/final event stream into discrete
// transcript entries: one row per utterance, replaced in place until a turn
// boundary, appended after one.
type Reconciler struct {
	mu    sync.Mutex
	log   *Log
	delay time.Duration

	buffers map[Speaker]*utteranceBuffer
	pending map[Speaker]*pendingCommit

	lastSpeaker Speaker
	hasLast     bool
	composing   bool

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewReconciler(log *Log, delay time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Reconciler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Reconciler{
		log:   log,
		delay: delay,
		buffers: map[Speaker]*utteranceBuffer{
			SpeakerUser:      {},
			SpeakerAssistant: {},
		},
		pending: make(map[Speaker]*pendingCommit),
		metrics: metrics,
		logger:  logger,
	}
}

// OnSpeechStart marks a new burst for the speaker: the utterance buffer is
// cleared and any commit still pending for that speaker is cancelled. When
// the speaker also owns the open tail of the log, the burst is a turn
// boundary: the next commit appends a fresh entry instead of overwriting
// the finalized one.
func (r *Reconciler) OnSpeechStart(sp Speaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer(sp).StartBurst()
	r.cancelPendingLocked(sp)
	if r.hasLast && r.lastSpeaker == sp {
		r.hasLast = false
		r.lastSpeaker = ""
	}
}

// OnMessage folds one speech event into the speaker's buffer and schedules
// its commit: immediately for finals, after the debounce window for
// partials. A newer event for the same speaker always cancels the older
// pending commit, so the latest hypothesis wins.
func (r *Reconciler) OnMessage(sp Speaker, text string, isFinal bool) {
	if strings.TrimSpace(text) == "" {
		r.metrics.ObserveDroppedEvent("empty_text")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer(sp).Set(text)
	r.cancelPendingLocked(sp)

	if isFinal {
		r.commitLocked(sp, true)
		return
	}

	pc := &pendingCommit{}
	pc.timer = time.AfterFunc(r.delay, func() {
		r.fire(sp, pc)
	})
	r.pending[sp] = pc
}

// AssistantComposing reports whether the assistant has an open, not yet
// finalized utterance in the transcript.
func (r *Reconciler) AssistantComposing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.composing
}

// Reset cancels all pending commits and clears both utterance buffers and
// the last-speaker marker. Called on call teardown and before a new call so
// no stale timer or buffer can leak into the next transcript. The log
// itself is left alone; the lifecycle controller owns clearing it.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sp := range r.pending {
		r.cancelPendingLocked(sp)
	}
	for _, b := range r.buffers {
		b.StartBurst()
	}
	r.lastSpeaker = ""
	r.hasLast = false
	r.composing = false
}

func (r *Reconciler) fire(sp Speaker, pc *pendingCommit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[sp] != pc {
		// Cancelled, superseded, or reset after this timer was scheduled.
		return
	}
	delete(r.pending, sp)
	r.commitLocked(sp, false)
}

func (r *Reconciler) commitLocked(sp Speaker, isFinal bool) {
	content := r.buffer(sp).Text()
	if strings.TrimSpace(content) == "" {
		return
	}

	now := time.Now().UTC()
	last, ok := r.log.Last()
	if ok && last.Speaker == sp && r.hasLast && r.lastSpeaker == sp {
		r.log.ReplaceLast(content, isFinal, now)
		r.metrics.ObserveTranscriptCommit(string(sp), commitModeMerge)
	} else {
		r.log.Append(Entry{
			ID:        uuid.NewString(),
			Speaker:   sp,
			Content:   content,
			IsFinal:   isFinal,
			CreatedAt: now,
			UpdatedAt: now,
		})
		r.metrics.ObserveTranscriptCommit(string(sp), commitModeAppend)
	}

	r.lastSpeaker = sp
	r.hasLast = true
	if sp == SpeakerAssistant {
		r.composing = !isFinal
	}
	r.logger.Debug().
		Str("speaker", string(sp)).
		Bool("final", isFinal).
		Int("entries", r.log.Len()).
		Msg("transcript commit")
}

func (r *Reconciler) cancelPendingLocked(sp Speaker) {
	if pc, ok := r.pending[sp]; ok {
		pc.timer.Stop()
		delete(r.pending, sp)
	}
}

func (r *Reconciler) buffer(sp Speaker) *utteranceBuffer {
	b, ok := r.buffers[sp]
	if !ok {
		b = &utteranceBuffer{}
		r.buffers[sp] = b
	}
	return b
}
