// Package transcript converts streams of incremental text fragments into a
// stable, append-only show transcript.
//
// Fragments arrive many times per second per speaker while an agent talks.
// The [Feed] keeps exactly one open streaming entry per speaker key, mutates
// it in place as the accumulated text grows, and freezes it on finalize.
// Finalized text that echoes a just-closed streaming entry is deduplicated
// so the log never shows the same utterance twice.
//
// All methods are safe for concurrent use.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// EntryType distinguishes moderator speech from agent speech.
type EntryType string

const (
	// TypeUser marks entries spoken or typed by the moderator.
	TypeUser EntryType = "user"
	// TypeAI marks entries spoken by a show agent.
	TypeAI EntryType = "ai"
)

// Entry is a single line of the show transcript. Once Streaming is false the
// entry is frozen and never mutated again.
type Entry struct {
	ID        int64     `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Type      EntryType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"isStreaming"`
}

// Listener is invoked with a copy of the affected entry after every feed
// mutation. Listeners run synchronously under the feed lock; keep them cheap
// (hand off to a channel).
type Listener func(Entry)

// Feed is the append-only transcript store.
type Feed struct {
	mu      sync.Mutex
	entries []Entry
	byID    map[int64]int  // entry ID → index in entries
	open    map[string]int64 // speaker key → open streaming entry ID
	nextID  int64
	now     func() time.Time

	listeners []Listener
}

// New creates an empty Feed using the real clock.
func New() *Feed {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty Feed with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Feed {
	return &Feed{
		byID: make(map[int64]int),
		open: make(map[string]int64),
		now:  now,
	}
}

// Subscribe registers a listener notified on every mutation.
func (f *Feed) Subscribe(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *Feed) notify(e Entry) {
	for _, l := range f.listeners {
		l(e)
	}
}

// AddEntry appends a finalized entry. Input is trimmed; empty text is a
// no-op. If the text exactly matches either of the two most recent entries
// from the same speaker, the call is dropped — this guards against the final
// non-streaming echo of a just-finalized streaming entry. Returns the entry
// and whether it was added.
func (f *Feed) AddEntry(speaker, text string, typ EntryType) (Entry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isRecentDuplicate(speaker, text) {
		return Entry{}, false
	}

	e := f.append(speaker, text, typ, false)
	f.notify(e)
	return e, true
}

// isRecentDuplicate reports whether text matches one of the two most recent
// entries by the same speaker. Caller holds the lock.
func (f *Feed) isRecentDuplicate(speaker, text string) bool {
	seen := 0
	for i := len(f.entries) - 1; i >= 0 && seen < 2; i-- {
		if f.entries[i].Speaker != speaker {
			continue
		}
		if f.entries[i].Text == text {
			return true
		}
		seen++
	}
	return false
}

// UpdateStreaming creates or replaces the single open streaming entry for
// speakerKey. The first call for a key appends a new streaming entry; later
// calls replace its text wholesale with fullText (callers accumulate
// fragments before calling). Entry order is fixed at creation; updates never
// reorder.
func (f *Feed) UpdateStreaming(speaker, fullText string, typ EntryType, speakerKey string) Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.open[speakerKey]; ok {
		idx := f.byID[id]
		f.entries[idx].Text = fullText
		e := f.entries[idx]
		f.notify(e)
		return e
	}

	e := f.append(speaker, fullText, typ, true)
	f.open[speakerKey] = e.ID
	f.notify(e)
	return e
}

// Finalize freezes the open streaming entry for speakerKey and releases the
// key. Finalizing a key with no open entry is a no-op.
func (f *Feed) Finalize(speakerKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.open[speakerKey]
	if !ok {
		return
	}
	delete(f.open, speakerKey)

	idx := f.byID[id]
	f.entries[idx].Streaming = false
	f.notify(f.entries[idx])
}

// ClearAll empties the transcript and all streaming tracking. Used at show
// start.
func (f *Feed) ClearAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	clear(f.byID)
	clear(f.open)
}

// Snapshot returns a copy of the transcript in insertion order.
func (f *Feed) Snapshot() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the number of entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// append adds an entry with the next ID. Caller holds the lock.
func (f *Feed) append(speaker, text string, typ EntryType, streaming bool) Entry {
	f.nextID++
	e := Entry{
		ID:        f.nextID,
		Speaker:   speaker,
		Text:      text,
		Type:      typ,
		Timestamp: f.now(),
		Streaming: streaming,
	}
	f.byID[e.ID] = len(f.entries)
	f.entries = append(f.entries, e)
	return e
}
