package show

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mkoutras/banterbox/internal/transcript"
	"github.com/mkoutras/banterbox/pkg/audio"
	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// moderatorKey is the streaming-entry speaker key for moderator speech.
// Agent keys are their agent IDs.
const moderatorKey = "moderator"

// hostContextClearDelay is how long a consumed host instruction survives
// after a handoff before it self-clears, so stale moderator text cannot leak
// into a third turn.
const hostContextClearDelay = 5 * time.Second

// Sender is the outbound half of the session manager as seen by the
// arbiter.
type Sender interface {
	Send(AgentID, string) error
	SendAudio(AgentID, []byte) error
	Broadcast(string)
}

// Sink receives UI-bound arbiter output. Implementations must not block.
type Sink interface {
	ConversationState(ConversationSnapshot)
	AgentSpeaking(AgentID, bool)
	Audio(agent AgentID, pcm []byte, slot audio.Slot)
	LaughCue()
}

// ArbiterConfig configures an [Arbiter].
type ArbiterConfig struct {
	// Profiles are the show's two agents, in turn order. The first profile
	// holds the opening turn.
	Profiles [2]Profile

	Feed   *transcript.Feed
	Sender Sender
	Sched  *audio.Scheduler
	Gate   *Gate
	Sink   Sink
	Laugh  *LaughGate

	// Language is the active UI language at show start.
	Language string

	// OutputSampleRate of inbound agent audio. Defaults to
	// audio.OutputSampleRate.
	OutputSampleRate int

	// HostClearDelay overrides hostContextClearDelay in tests.
	HostClearDelay time.Duration

	Logger *slog.Logger
}

// Arbiter enforces the turn invariant: at most one agent is eligible to
// speak at a time. It routes every remote-session event, relays context
// between agents that cannot hear each other, and absorbs moderator
// interjections without corrupting in-flight turns.
//
// All state mutation happens under a single mutex; every event is a total
// function over (state, event).
type Arbiter struct {
	profiles [2]Profile
	feed     *transcript.Feed
	sender   Sender
	sched    *audio.Scheduler
	gate     *Gate
	sink     Sink
	laugh    *LaughGate
	log      *slog.Logger

	outputRate     int
	hostClearDelay time.Duration

	mu           sync.Mutex
	running      bool
	active       AgentID
	speaking     bool // the active agent is mid-utterance
	paused       bool
	micMuted     bool
	language     string
	lastSpoken   string
	lastHost     string
	pendingHost  string
	hasPending   bool
	awaiting     map[AgentID]bool
	outBuf       map[AgentID]string // per-turn output transcription accumulation
	inBuf        map[AgentID]string // per-turn input (moderator) accumulation
	hostClearGen int
}

// NewArbiter creates an Arbiter from cfg. Call [Arbiter.Begin] to start a
// show.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	a := &Arbiter{
		profiles:       cfg.Profiles,
		feed:           cfg.Feed,
		sender:         cfg.Sender,
		sched:          cfg.Sched,
		gate:           cfg.Gate,
		sink:           cfg.Sink,
		laugh:          cfg.Laugh,
		log:            log,
		outputRate:     cfg.OutputSampleRate,
		hostClearDelay: cfg.HostClearDelay,
		language:       cfg.Language,
		awaiting:       make(map[AgentID]bool),
		outBuf:         make(map[AgentID]string),
		inBuf:          make(map[AgentID]string),
	}
	if a.outputRate <= 0 {
		a.outputRate = audio.OutputSampleRate
	}
	if a.hostClearDelay <= 0 {
		a.hostClearDelay = hostContextClearDelay
	}
	if a.language == "" {
		a.language = DefaultLanguage
	}
	if a.laugh == nil {
		a.laugh = NewLaughGate()
	}
	return a
}

// Begin resets all turn state for a new show. The first profile becomes the
// active agent; the conversation starts paused with the mic muted until the
// moderator explicitly opens it.
func (a *Arbiter) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.running = true
	a.active = a.profiles[0].ID
	a.speaking = false
	a.paused = true
	a.micMuted = true
	a.lastSpoken = ""
	a.lastHost = ""
	a.pendingHost = ""
	a.hasPending = false
	a.hostClearGen++
	clear(a.awaiting)
	clear(a.outBuf)
	clear(a.inBuf)
	a.feed.ClearAll()
	a.publishLocked()
}

// End stops the show: no further events mutate state and all pending
// playback timelines are discarded.
func (a *Arbiter) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.speaking = false
	a.sched.FlushAll()
	a.publishLocked()
}

// HandleEvent routes one remote-session event from the given agent through
// the turn state machine.
func (a *Arbiter) HandleEvent(agent AgentID, ev s2s.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	// Events from the non-active agent must not corrupt turn state: drop
	// their audio and turn-complete signals outright. Transcription and
	// interruption are agent-scoped and stay.
	if agent != a.active && (ev.Type == s2s.EventAudio || ev.Type == s2s.EventTurnComplete) {
		return
	}

	// Pause freezes the conversation without tearing down sessions.
	if a.paused {
		switch ev.Type {
		case s2s.EventInputTranscription, s2s.EventOutputTranscription,
			s2s.EventAudio, s2s.EventTurnComplete, s2s.EventInterrupted:
			return
		}
	}

	switch ev.Type {
	case s2s.EventInputTranscription:
		a.handleInputTranscription(agent, ev.Text)
	case s2s.EventOutputTranscription:
		a.handleOutputTranscription(agent, ev.Text)
	case s2s.EventTurnComplete:
		a.handleTurnComplete(agent)
	case s2s.EventAudio:
		a.handleAudio(agent, ev.Audio)
	case s2s.EventInterrupted:
		a.handleInterrupted(agent)
	case s2s.EventError:
		a.log.Warn("agent event error", "agent", agent, "err", ev.Err)
	}
}

// handleInputTranscription accumulates a moderator speech fragment. The
// running buffer doubles as the live host instruction for the next handoff.
func (a *Arbiter) handleInputTranscription(agent AgentID, text string) {
	a.inBuf[agent] += text
	full := a.inBuf[agent]
	a.feed.UpdateStreaming("Moderator", full, transcript.TypeUser, moderatorKey)
	a.lastHost = full
}

// handleOutputTranscription accumulates an agent speech fragment. The
// [LAUGH] tag is stripped from display text; laughter detection runs on the
// raw fragment.
func (a *Arbiter) handleOutputTranscription(agent AgentID, text string) {
	cleaned := StripLaughTag(text)
	a.outBuf[agent] += cleaned
	a.lastSpoken = a.outBuf[agent]

	a.feed.UpdateStreaming(a.nameOf(agent), a.outBuf[agent], transcript.TypeAI, string(agent))

	if IsLaughLine(text) && a.laugh.Allow() {
		a.sink.LaughCue()
	}
}

// handleTurnComplete finishes the active agent's utterance and hands the
// turn to the other agent with relay context.
func (a *Arbiter) handleTurnComplete(agent AgentID) {
	spoken := a.outBuf[agent]

	// Spurious completion: the agent never spoke and produced no text.
	if !a.speaking && strings.TrimSpace(spoken) == "" {
		return
	}

	a.feed.Finalize(moderatorKey)
	a.feed.Finalize(string(agent))

	a.outBuf[agent] = ""
	a.inBuf[agent] = ""
	a.awaiting[agent] = false

	// The exact moment a queued moderator message takes effect.
	if a.hasPending {
		a.lastHost = a.pendingHost
		a.pendingHost = ""
		a.hasPending = false
	}

	a.lastSpoken = spoken
	a.speaking = false

	next := a.otherOf(agent)
	a.active = next.ID

	prompt := handoffPrompt(a.lastHost, a.nameOf(agent), strings.TrimSpace(spoken), next.Name)
	a.awaiting[next.ID] = true
	a.log.Info("turn handoff", "from", agent, "to", next.ID)
	if err := a.sender.Send(next.ID, prompt); err != nil {
		a.log.Warn("handoff prompt failed", "agent", next.ID, "err", err)
	}

	// Self-clear the consumed host context so it cannot leak into a third
	// turn. A generation counter makes late timers harmless.
	if a.lastHost != "" {
		a.hostClearGen++
		gen := a.hostClearGen
		time.AfterFunc(a.hostClearDelay, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.hostClearGen == gen {
				a.lastHost = ""
			}
		})
	}

	a.publishLocked()
}

// handleAudio processes an audio chunk from the active agent: first chunk
// flips IDLE to SPEAKING, subsequent chunks extend the agent's gap-free
// playback timeline. There is no cross-agent audio relay; agents hear each
// other only through the text relay in the handoff prompt, which avoids
// voice-activity feedback loops.
func (a *Arbiter) handleAudio(agent AgentID, pcm []byte) {
	a.awaiting[agent] = false

	if !a.speaking {
		a.speaking = true
		a.log.Debug("agent started speaking", "agent", agent)
	}

	if a.paused {
		a.sink.AgentSpeaking(agent, true)
		a.publishLocked()
		return
	}

	slot := a.sched.Schedule(string(agent), pcm, a.outputRate)
	a.log.Debug("scheduled agent audio",
		"agent", agent,
		"duration", slot.Duration,
		"backlog", a.sched.Backlog(string(agent)))
	a.sink.Audio(agent, pcm, slot)
	a.sink.AgentSpeaking(agent, true)
	a.publishLocked()
}

// handleInterrupted discards the agent's queued playback, resets its
// scheduling clock and, for the active agent, clears the speaking flag so the
// mic gate reopens.
func (a *Arbiter) handleInterrupted(agent AgentID) {
	a.sched.Flush(string(agent))
	a.sink.AgentSpeaking(agent, false)
	if agent == a.active && a.speaking {
		a.speaking = false
		a.publishLocked()
	}
}

// SendHostMessage injects a moderator text message. Mid-utterance messages
// queue until the current turn completes rather than interrupting it.
func (a *Arbiter) SendHostMessage(message string) {
	message = strings.TrimSpace(message)

	a.mu.Lock()
	defer a.mu.Unlock()

	if message == "" || !a.running {
		return
	}

	a.feed.AddEntry("Moderator", message, transcript.TypeUser)

	if a.speaking {
		a.pendingHost = message
		a.hasPending = true
		return
	}

	a.lastHost = message
	if err := a.sender.Send(a.active, hostMessagePrompt(message)); err != nil {
		a.log.Warn("host message send failed", "agent", a.active, "err", err)
	}
}

// MicFrame forwards one captured microphone frame to the active agent,
// subject to the gating predicate. Dropped frames are silent no-ops.
func (a *Arbiter) MicFrame(pcm []byte) {
	if !a.gate.Load().ShouldSend() {
		return
	}

	a.mu.Lock()
	active := a.active
	a.mu.Unlock()

	if err := a.sender.SendAudio(active, pcm); err != nil {
		a.log.Debug("mic frame dropped", "agent", active, "err", err)
	}
}

// AgentDown releases turn ownership held by a dead session so stale state
// does not persist while it reconnects.
func (a *Arbiter) AgentDown(agent AgentID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == agent {
		a.speaking = false
		a.awaiting[agent] = false
	}
	a.sched.Flush(string(agent))
	a.sink.AgentSpeaking(agent, false)
	a.publishLocked()
}

// ResumePromptFor returns the prompt a freshly reconnected session should
// receive, or "" when no resume is needed. Only the active agent, while not
// mid-utterance, resumes its turn.
func (a *Arbiter) ResumePromptFor(agent AgentID) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running || a.active != agent || a.speaking {
		return ""
	}
	a.awaiting[agent] = true
	return resumePrompt(a.lastHost, strings.TrimSpace(a.lastSpoken))
}

// SetPaused freezes or resumes the conversation. Pausing discards queued
// playback; sessions stay connected.
func (a *Arbiter) SetPaused(paused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused == paused {
		return
	}
	a.paused = paused
	if paused {
		a.sched.FlushAll()
	}
	a.publishLocked()
}

// SetMicMuted toggles the moderator's manual mic mute.
func (a *Arbiter) SetMicMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.micMuted == muted {
		return
	}
	a.micMuted = muted
	a.publishLocked()
}

// SetLanguage switches the show language. While live, every connected agent
// receives a system line pinning it to the new language; turn state is not
// reset.
func (a *Arbiter) SetLanguage(language string) {
	a.mu.Lock()
	if language == a.language {
		a.mu.Unlock()
		return
	}
	a.language = language
	running := a.running
	a.mu.Unlock()

	if !running {
		return
	}
	if prompt := languageSwitchPrompt(language); prompt != "" {
		a.sender.Broadcast(prompt)
	}
}

// Snapshot returns the current conversation state.
func (a *Arbiter) Snapshot() ConversationSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// AwaitingAudio reports whether the agent has been prompted but produced no
// audio yet (drives the "thinking" UI state).
func (a *Arbiter) AwaitingAudio(agent AgentID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.awaiting[agent]
}

func (a *Arbiter) snapshotLocked() ConversationSnapshot {
	var awaiting map[AgentID]bool
	for id, w := range a.awaiting {
		if !w {
			continue
		}
		if awaiting == nil {
			awaiting = make(map[AgentID]bool, len(a.awaiting))
		}
		awaiting[id] = true
	}
	return ConversationSnapshot{
		ActiveAgent:   a.active,
		AgentSpeaking: a.speaking,
		Paused:        a.paused,
		MicMuted:      a.micMuted,
		Awaiting:      awaiting,
	}
}

// publishLocked refreshes the gating snapshot and pushes the conversation
// state to the UI. Caller holds the lock.
func (a *Arbiter) publishLocked() {
	a.gate.Store(GateState{
		ShowRunning:   a.running,
		MicMuted:      a.micMuted,
		Paused:        a.paused,
		AgentSpeaking: a.speaking,
	})
	a.sink.ConversationState(a.snapshotLocked())
}

func (a *Arbiter) otherOf(agent AgentID) Profile {
	if a.profiles[0].ID == agent {
		return a.profiles[1]
	}
	return a.profiles[0]
}

func (a *Arbiter) nameOf(agent AgentID) string {
	if a.profiles[0].ID == agent {
		return a.profiles[0].Name
	}
	if a.profiles[1].ID == agent {
		return a.profiles[1].Name
	}
	return "Guest"
}
