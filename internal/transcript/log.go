package transcript

import (
	"sync"
	"time"
)

// Log is the ordered consult transcript. Insertion order is conversation
// order. It is append-only except for in-place replacement of the last
// entry, which the Reconciler performs under its merge rule; the Log itself
// does no validation.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	version uint64
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	l.version++
}

// ReplaceLast overwrites the content, final flag and update time of the most
// recent entry, preserving its ID, speaker and creation time. It reports
// false when the log is empty.
func (l *Log) ReplaceLast(content string, isFinal bool, updatedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return false
	}
	last := &l.entries[len(l.entries)-1]
	last.Content = content
	last.IsFinal = isFinal
	last.UpdatedAt = updatedAt
	l.version++
	return true
}

func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// All returns a copy of the entries in conversation order.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Final returns only finalized entries. Downstream referral and summary
// consumers treat this view as the authoritative transcript.
func (l *Log) Final() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.IsFinal {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.version++
}

// Version increases on every mutation. Live feeds poll it to detect changes
// without diffing entries.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
