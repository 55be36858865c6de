package audio

import (
	"sync"
	"time"
)

// Scheduler assigns gap-free sequential playback slots to audio chunks, one
// timeline per speaker. Chunks for the same speaker never overlap: each chunk
// starts at the later of "now" and the previous chunk's end. Timelines for
// different speakers are independent.
type Scheduler struct {
	mu        sync.Mutex
	nextStart map[string]time.Time
	now       func() time.Time
}

// NewScheduler creates a Scheduler using the real clock.
func NewScheduler() *Scheduler {
	return &Scheduler{
		nextStart: make(map[string]time.Time),
		now:       time.Now,
	}
}

// NewSchedulerWithClock creates a Scheduler with an injectable clock for
// tests.
func NewSchedulerWithClock(now func() time.Time) *Scheduler {
	return &Scheduler{
		nextStart: make(map[string]time.Time),
		now:       now,
	}
}

// Slot is a scheduled playback window for one chunk.
type Slot struct {
	// Start is the absolute time playback of the chunk should begin.
	Start time.Time
	// Delay is how long from now playback should wait before starting.
	// Zero when the speaker's timeline has already drained.
	Delay time.Duration
	// Duration is the playback length of the chunk.
	Duration time.Duration
}

// Schedule reserves the next playback slot for speaker and a mono int16 PCM
// chunk at the given sample rate, and advances the speaker's timeline past
// it.
func (s *Scheduler) Schedule(speaker string, pcm []byte, sampleRate int) Slot {
	dur := time.Duration(Duration(pcm, sampleRate) * float64(time.Second))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := now
	if next, ok := s.nextStart[speaker]; ok && next.After(now) {
		start = next
	}
	s.nextStart[speaker] = start.Add(dur)

	return Slot{
		Start:    start,
		Delay:    start.Sub(now),
		Duration: dur,
	}
}

// Flush discards the speaker's pending timeline so that the next chunk plays
// immediately. Used when the model reports an interruption.
func (s *Scheduler) Flush(speaker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nextStart, speaker)
}

// FlushAll discards every speaker's pending timeline.
func (s *Scheduler) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.nextStart)
}

// Backlog reports how much audio is queued ahead of "now" for the speaker.
func (s *Scheduler) Backlog(speaker string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.nextStart[speaker]
	if !ok {
		return 0
	}
	d := next.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}
