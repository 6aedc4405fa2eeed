package transcript

// utteranceBuffer holds the latest full-utterance hypothesis for one
// speaker's current speech burst. Upstream events carry the entire current
// hypothesis, so Set overwrites rather than appends. StartBurst clears the
// buffer unconditionally so a new burst never inherits leftover text from a
// previous one.
type utteranceBuffer struct {
	pending string
}

func (b *utteranceBuffer) StartBurst() {
	b.pending = ""
}

func (b *utteranceBuffer) Set(text string) {
	b.pending = text
}

func (b *utteranceBuffer) Text() string {
	return b.pending
}
