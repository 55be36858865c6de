package show

import (
	"testing"
	"time"
)

func TestStripLaughTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tag", "plain sentence", "plain sentence"},
		{"tag at end", "that was golden. [LAUGH]", "that was golden. "},
		{"tag mid-sentence", "wait [LAUGH] seriously", "wait seriously"},
		{"lowercase tag", "gotcha [laugh]", "gotcha "},
		{"multiple tags", "[LAUGH] twice [LAUGH]", " twice "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripLaughTag(tt.in); got != tt.want {
				t.Errorf("StripLaughTag(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsLaughLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "   ", false},
		{"plain statement", "the universe is expanding", false},
		{"laugh tag", "nailed it [LAUGH]", true},
		{"laugh tag lowercase", "nailed it [laugh]", true},
		{"trailing bang", "and that's why you lost!", true},
		{"trailing bang with space", "boom!  ", true},
		{"interrobang", "you did what?! unbelievable", true},
		{"laughing emoji", "oh no 😂", true},
		{"lol word", "lol that was rough", true},
		{"haha word", "haha good one", true},
		{"lmao word", "lmao no way", true},
		{"joke word", "that joke landed", true},
		{"punchline word", "what a punchline", true},
		{"extended laughter spelling", "hahaha brutal", true},
		{"word containing but not equal", "hahazard protocols", false},
		{"mid-sentence bang", "wow! but then it got boring", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsLaughLine(tt.in); got != tt.want {
				t.Errorf("IsLaughLine(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLaughGate_Cooldown(t *testing.T) {
	t.Parallel()

	clk := time.Unix(1000, 0)
	g := NewLaughGateWithClock(4*time.Second, func() time.Time { return clk })

	if !g.Allow() {
		t.Fatal("first cue should fire")
	}
	if g.Allow() {
		t.Error("second cue inside cooldown should be suppressed")
	}

	clk = clk.Add(3 * time.Second)
	if g.Allow() {
		t.Error("cue at 3s should still be suppressed")
	}

	clk = clk.Add(2 * time.Second)
	if !g.Allow() {
		t.Error("cue after cooldown should fire")
	}
}
