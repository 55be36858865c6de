package show

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// laughTagRe matches the inline [LAUGH] delivery-cue tag, with surrounding
// whitespace, case-insensitively.
var laughTagRe = regexp.MustCompile(`(?i)\s*\[LAUGH\]\s*`)

// StripLaughTag removes [LAUGH] tags from display text, collapsing each into
// a single space. Detection runs on the raw text before stripping.
func StripLaughTag(text string) string {
	return laughTagRe.ReplaceAllString(text, " ")
}

// laughInterjections are the canonical laughter words of the punchline
// heuristic. Transcribed laughter is spelled inconsistently ("bahaha",
// "hehehe"), so candidate words are also compared phonetically against this
// set.
var laughInterjections = []string{"lol", "haha", "hahaha", "lmao", "rofl", "joke", "punchline"}

var (
	trailingBangRe = regexp.MustCompile(`!\s*$`)
	interrobangRe  = regexp.MustCompile(`\?!`)
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// isLaughWord reports whether word matches a laughter interjection, exactly
// or phonetically (Double Metaphone code equality).
func isLaughWord(word string) bool {
	word = strings.ToLower(word)
	for _, canon := range laughInterjections {
		if word == canon {
			return true
		}
	}
	p1, s1 := matchr.DoubleMetaphone(word)
	if p1 == "" && s1 == "" {
		return false
	}
	for _, canon := range laughInterjections {
		p2, s2 := matchr.DoubleMetaphone(canon)
		if (p1 != "" && p1 == p2) || (s1 != "" && s1 == s2) {
			return true
		}
	}
	return false
}

// IsLaughLine reports whether a raw (un-stripped) transcription fragment
// should trigger the audience laughter cue: an explicit [LAUGH] tag, a
// laughter interjection as a whole word, a sentence ending in "!", a "?!"
// combination, or a laughing emoji. Best-effort comedic timing, not
// sentiment analysis.
func IsLaughLine(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if laughTagRe.MatchString(text) {
		return true
	}
	if trailingBangRe.MatchString(text) || interrobangRe.MatchString(text) {
		return true
	}
	if strings.Contains(text, "😂") {
		return true
	}
	for _, word := range wordRe.FindAllString(text, -1) {
		if isLaughWord(word) {
			return true
		}
	}
	return false
}

// LaughCooldown is the minimum interval between audience laughter cues.
const LaughCooldown = 4 * time.Second

// LaughGate rate-limits laughter cues. Safe for concurrent use.
type LaughGate struct {
	mu       sync.Mutex
	last     time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewLaughGate creates a LaughGate with the standard cooldown.
func NewLaughGate() *LaughGate {
	return &LaughGate{cooldown: LaughCooldown, now: time.Now}
}

// NewLaughGateWithClock creates a LaughGate with an injectable clock for
// tests.
func NewLaughGateWithClock(cooldown time.Duration, now func() time.Time) *LaughGate {
	return &LaughGate{cooldown: cooldown, now: now}
}

// Allow reports whether a cue may fire now, and if so consumes the cooldown.
func (g *LaughGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}
