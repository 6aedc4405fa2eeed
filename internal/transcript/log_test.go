package transcript

import (
	"testing"
	"time"
)

func TestLogAppendAndLast(t *testing.T) {
	tlog := NewLog()
	if _, ok := tlog.Last(); ok {
		t.Fatalf("Last on empty log returned ok = true")
	}

	now := time.Now().UTC()
	tlog.Append(Entry{ID: "a", Speaker: SpeakerUser, Content: "hello", CreatedAt: now, UpdatedAt: now})
	tlog.Append(Entry{ID: "b", Speaker: SpeakerAssistant, Content: "hi", IsFinal: true, CreatedAt: now, UpdatedAt: now})

	last, ok := tlog.Last()
	if !ok || last.ID != "b" {
		t.Fatalf("Last = %+v, ok = %v, want entry b", last, ok)
	}
	if tlog.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tlog.Len())
	}
	if tlog.Version() != 2 {
		t.Fatalf("Version = %d, want 2", tlog.Version())
	}
}

func TestLogReplaceLast(t *testing.T) {
	tlog := NewLog()
	if tlog.ReplaceLast("x", true, time.Now()) {
		t.Fatalf("ReplaceLast on empty log returned true")
	}

	created := time.Now().UTC().Add(-time.Second)
	tlog.Append(Entry{ID: "a", Speaker: SpeakerUser, Content: "partial", CreatedAt: created, UpdatedAt: created})

	updated := time.Now().UTC()
	if !tlog.ReplaceLast("full sentence", true, updated) {
		t.Fatalf("ReplaceLast returned false on non-empty log")
	}

	last, _ := tlog.Last()
	if last.ID != "a" {
		t.Fatalf("ID = %q, want identity preserved", last.ID)
	}
	if !last.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed on replace")
	}
	if last.Content != "full sentence" || !last.IsFinal {
		t.Fatalf("entry = %+v, want replaced content and final flag", last)
	}
	if tlog.Version() != 2 {
		t.Fatalf("Version = %d, want bump on replace", tlog.Version())
	}
}

func TestLogAllReturnsCopy(t *testing.T) {
	tlog := NewLog()
	tlog.Append(Entry{ID: "a", Speaker: SpeakerUser, Content: "original"})

	entries := tlog.All()
	entries[0].Content = "mutated"

	fresh := tlog.All()
	if fresh[0].Content != "original" {
		t.Fatalf("Content = %q, caller mutation leaked into log", fresh[0].Content)
	}
}

func TestLogFinalFiltersPartials(t *testing.T) {
	tlog := NewLog()
	tlog.Append(Entry{ID: "a", Speaker: SpeakerUser, Content: "done", IsFinal: true})
	tlog.Append(Entry{ID: "b", Speaker: SpeakerAssistant, Content: "still typing"})
	tlog.Append(Entry{ID: "c", Speaker: SpeakerAssistant, Content: "answered", IsFinal: true})

	finals := tlog.Final()
	if len(finals) != 2 {
		t.Fatalf("Final = %d entries, want 2", len(finals))
	}
	if finals[0].ID != "a" || finals[1].ID != "c" {
		t.Fatalf("Final IDs = %q,%q want a,c", finals[0].ID, finals[1].ID)
	}
}

func TestLogClear(t *testing.T) {
	tlog := NewLog()
	tlog.Append(Entry{ID: "a", Speaker: SpeakerUser, Content: "hello"})
	tlog.Clear()

	if tlog.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", tlog.Len())
	}
	if tlog.Version() != 2 {
		t.Fatalf("Version = %d, want Clear to count as a change", tlog.Version())
	}
}
