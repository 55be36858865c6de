package server

import (
	"github.com/mkoutras/banterbox/internal/show"
	"github.com/mkoutras/banterbox/internal/transcript"
)

// Outbound frame types pushed to control-surface clients.
const (
	frameTranscript        = "transcript"
	frameAgentStatus       = "agent_status"
	frameAgentSpeaking     = "agent_speaking"
	frameConversationState = "conversation_state"
	frameAudio             = "audio"
	frameLaughCue          = "laugh_cue"
	frameShowState         = "show_state"
	frameError             = "error"
)

// Inbound control frame types sent by clients.
const (
	cmdStartShow   = "start_show"
	cmdStopShow    = "stop_show"
	cmdHostMessage = "host_message"
	cmdSetMicMuted = "set_mic_muted"
	cmdSetPaused   = "set_paused"
	cmdSetLanguage = "set_language"
)

type transcriptFrame struct {
	Type  string           `json:"type"`
	Entry transcript.Entry `json:"entry"`
}

type agentStatusFrame struct {
	Type   string           `json:"type"`
	Agent  show.AgentID     `json:"agent"`
	Status show.AgentStatus `json:"status"`
}

type agentSpeakingFrame struct {
	Type     string       `json:"type"`
	Agent    show.AgentID `json:"agent"`
	Speaking bool         `json:"isSpeaking"`
}

type conversationStateFrame struct {
	Type  string                    `json:"type"`
	State show.ConversationSnapshot `json:"state"`
}

// audioFrame carries one scheduled playback chunk. PCM is little-endian
// mono int16, base64-encoded by the JSON marshaller. Peak and Level feed the
// browser's speaking-intensity visualizer without it decoding the PCM.
type audioFrame struct {
	Type       string       `json:"type"`
	Agent      show.AgentID `json:"agent"`
	PCM        []byte       `json:"pcm"`
	SampleRate int          `json:"sampleRate"`
	DelayMs    int64        `json:"delayMs"`
	DurationMs int64        `json:"durationMs"`
	Peak       float64      `json:"peak"`
	Level      float64      `json:"level"`
}

type laughCueFrame struct {
	Type string `json:"type"`
}

type showStateFrame struct {
	Type      string `json:"type"`
	Running   bool   `json:"running"`
	RivalryID string `json:"rivalryId,omitempty"`
	Language  string `json:"language,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// controlFrame is the union of all inbound text frames. Unused fields stay
// zero for any given command type.
type controlFrame struct {
	Type      string `json:"type"`
	RivalryID string `json:"rivalryId,omitempty"`
	Text      string `json:"text,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Paused    *bool  `json:"paused,omitempty"`
	Language  string `json:"language,omitempty"`
}
