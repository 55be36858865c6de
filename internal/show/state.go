// Package show implements the live-show core: the turn arbiter that keeps at
// most one agent speaking at a time, the session manager that holds two
// long-lived remote sessions alive with automatic reconnection, and the
// laughter-cue heuristic.
//
// The arbiter owns ConversationState exclusively; the manager owns the
// session handle cache exclusively. The audio path touches neither directly
// — it reads an atomically published [GateState] snapshot and routes frames
// through the manager.
package show

import (
	"sync/atomic"
)

// AgentID identifies one of the two show agents.
type AgentID string

// Status is the connection state of an agent session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusError        Status = "error"
)

// Profile describes one show agent: display name, remote voice, and persona
// instruction. Exactly two profiles participate in a show.
type Profile struct {
	ID          AgentID `json:"id"`
	Name        string  `json:"name"`
	Voice       string  `json:"voice"`
	Role        string  `json:"role,omitempty"`
	Instruction string  `json:"-"`
}

// AgentStatus is the externally visible state of one agent session.
type AgentStatus struct {
	Status        Status `json:"status"`
	Speaking      bool   `json:"isSpeaking"`
	AwaitingAudio bool   `json:"awaitingAudio"`
	ErrorMessage  string `json:"error,omitempty"`
}

// ConversationSnapshot is a point-in-time copy of the arbiter's turn state,
// pushed to the UI on every change. Awaiting lists the agents that have been
// prompted but produced no audio yet, so the UI can render a "thinking"
// indicator between the handoff and the first chunk.
type ConversationSnapshot struct {
	ActiveAgent   AgentID          `json:"activeAgent"`
	AgentSpeaking bool             `json:"isAgentSpeaking"`
	Paused        bool             `json:"isPaused"`
	MicMuted      bool             `json:"isMicMuted"`
	Awaiting      map[AgentID]bool `json:"awaitingAudio,omitempty"`
}

// GateState is the per-frame microphone gating snapshot. The audio path
// loads it once per frame; the arbiter publishes a new snapshot whenever any
// input changes.
type GateState struct {
	ShowRunning   bool
	MicMuted      bool
	Paused        bool
	AgentSpeaking bool
}

// ShouldSend reports whether a captured microphone frame may be forwarded to
// the active agent. Re-evaluated per frame with no debouncing, so the mic
// opens the instant the active agent stops speaking.
func (g GateState) ShouldSend() bool {
	return g.ShowRunning && !g.MicMuted && !g.Paused && !g.AgentSpeaking
}

// Gate publishes GateState snapshots atomically. The zero value holds a
// closed gate.
type Gate struct {
	v atomic.Value
}

// Load returns the current snapshot.
func (g *Gate) Load() GateState {
	s, ok := g.v.Load().(GateState)
	if !ok {
		return GateState{}
	}
	return s
}

// Store publishes a new snapshot.
func (g *Gate) Store(s GateState) {
	g.v.Store(s)
}
