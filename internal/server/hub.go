package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/mkoutras/banterbox/internal/observe"
	"github.com/mkoutras/banterbox/internal/show"
	"github.com/mkoutras/banterbox/internal/transcript"
	"github.com/mkoutras/banterbox/pkg/audio"
)

// clientSendBuffer is the per-client outbound frame queue. A client that
// cannot drain this many frames is considered stuck and disconnected.
const clientSendBuffer = 256

// writeTimeout bounds a single WebSocket write per client.
const writeTimeout = 5 * time.Second

// Controller is the show control API the hub dispatches inbound client
// commands to. Implemented by the application layer.
type Controller interface {
	StartShow(ctx context.Context, rivalryID string) error
	StopShow()
	HostMessage(text string)
	SetMicMuted(muted bool)
	SetPaused(paused bool)
	SetLanguage(language string) error
	MicFrame(pcm []byte)
}

// StateSnapshot is the full show state replayed to a freshly connected
// client so it can render without waiting for the next mutation.
type StateSnapshot struct {
	Running      bool
	RivalryID    string
	Language     string
	Conversation *show.ConversationSnapshot
	Statuses     map[show.AgentID]show.AgentStatus
	Transcript   []transcript.Entry
}

// Hub fans arbiter and session output out to all connected control-surface
// clients and feeds their commands into the [Controller]. It implements
// [show.Sink] so the arbiter can push state without knowing about
// WebSockets.
type Hub struct {
	log     *slog.Logger
	metrics *observe.Metrics

	// snapshot, when set, is queried for every new client so current state
	// can be replayed before live frames.
	snapshot func() StateSnapshot

	mu      sync.Mutex
	ctrl    Controller
	clients map[*client]struct{}
}

// NewHub creates a hub with no connected clients. Wire the controller with
// [Hub.SetController] before serving.
func NewHub(log *slog.Logger, metrics *observe.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// SetController wires the show control API. Commands received before this
// is called are answered with an error frame.
func (h *Hub) SetController(ctrl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = ctrl
}

// SetSnapshotter registers the state source replayed to every newly
// connected client.
func (h *Hub) SetSnapshotter(fn func() StateSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ── show.Sink ────────────────────────────────────────────────────────────────

// ConversationState broadcasts a turn-state snapshot.
func (h *Hub) ConversationState(s show.ConversationSnapshot) {
	h.Broadcast(conversationStateFrame{Type: frameConversationState, State: s})
}

// AgentSpeaking broadcasts a speaking flag change for one agent.
func (h *Hub) AgentSpeaking(agent show.AgentID, speaking bool) {
	h.Broadcast(agentSpeakingFrame{Type: frameAgentSpeaking, Agent: agent, Speaking: speaking})
}

// Audio broadcasts one scheduled playback chunk.
func (h *Hub) Audio(agent show.AgentID, pcm []byte, slot audio.Slot) {
	if h.metrics != nil {
		h.metrics.AudioBytes.Add(context.Background(), int64(len(pcm)),
			metric.WithAttributes(observe.Attr("agent", string(agent))))
	}
	h.Broadcast(audioFrame{
		Type:       frameAudio,
		Agent:      agent,
		PCM:        pcm,
		SampleRate: audio.OutputSampleRate,
		DelayMs:    slot.Delay.Milliseconds(),
		DurationMs: slot.Duration.Milliseconds(),
		Peak:       audio.Peak(pcm),
		Level:      audio.RMS(pcm),
	})
}

// LaughCue broadcasts an audience laughter trigger.
func (h *Hub) LaughCue() {
	if h.metrics != nil {
		h.metrics.LaughCues.Add(context.Background(), 1)
	}
	h.Broadcast(laughCueFrame{Type: frameLaughCue})
}

// ── Broadcast fan-out ────────────────────────────────────────────────────────

// TranscriptEntry broadcasts a transcript mutation. Registered as a
// [transcript.Listener] by the application.
func (h *Hub) TranscriptEntry(e transcript.Entry) {
	h.Broadcast(transcriptFrame{Type: frameTranscript, Entry: e})
}

// AgentStatus broadcasts a session status change for one agent.
func (h *Hub) AgentStatus(agent show.AgentID, st show.AgentStatus) {
	h.Broadcast(agentStatusFrame{Type: frameAgentStatus, Agent: agent, Status: st})
}

// ShowState broadcasts the show lifecycle state.
func (h *Hub) ShowState(running bool, rivalryID, language string) {
	h.Broadcast(showStateFrame{Type: frameShowState, Running: running, RivalryID: rivalryID, Language: language})
}

// Broadcast marshals v once and queues it on every connected client. Clients
// with a full send queue are dropped; a stuck reader must not stall the show.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal broadcast frame", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping stalled client", "remote", c.remote)
			if h.metrics != nil {
				h.metrics.DroppedEvents.Add(context.Background(), 1,
					metric.WithAttributes(observe.Attr("reason", "slow_client")))
			}
			c.close()
			c.conn.Close(websocket.StatusPolicyViolation, "send queue overflow")
			delete(h.clients, c)
		}
	}
}

// ── Client lifecycle ─────────────────────────────────────────────────────────

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ServeWS upgrades the request to a WebSocket and runs the client's read
// and write loops until either side disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		remote: r.RemoteAddr,
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	snapshot := h.snapshot
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectedClients.Add(r.Context(), 1)
		defer h.metrics.ConnectedClients.Add(context.Background(), -1)
	}
	h.log.Info("client connected", "remote", c.remote)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
		conn.Close(websocket.StatusNormalClosure, "")
		h.log.Info("client disconnected", "remote", c.remote)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, c)

	if snapshot != nil {
		h.replay(c, snapshot())
	}

	h.readLoop(ctx, c)
}

// replay pushes the full state snapshot to one client: show lifecycle
// first, then turn state, session statuses, and the transcript in order.
func (h *Hub) replay(c *client, s StateSnapshot) {
	h.sendTo(c, showStateFrame{Type: frameShowState, Running: s.Running, RivalryID: s.RivalryID, Language: s.Language})
	if s.Conversation != nil {
		h.sendTo(c, conversationStateFrame{Type: frameConversationState, State: *s.Conversation})
	}
	for agent, st := range s.Statuses {
		h.sendTo(c, agentStatusFrame{Type: frameAgentStatus, Agent: agent, Status: st})
	}
	for _, entry := range s.Transcript {
		h.sendTo(c, transcriptFrame{Type: frameTranscript, Entry: entry})
	}
}

// sendTo queues a frame on a single client.
func (h *Hub) sendTo(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal frame", "err", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writeLoop drains the client's send queue onto the wire.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop consumes inbound frames: text frames carry JSON commands, binary
// frames carry raw moderator microphone PCM.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case <-c.closed:
			return
		default:
		}

		switch typ {
		case websocket.MessageBinary:
			if ctrl := h.controller(); ctrl != nil {
				ctrl.MicFrame(data)
			}
		case websocket.MessageText:
			h.dispatch(ctx, c, data)
		}
	}
}

func (h *Hub) controller() Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctrl
}

// dispatch decodes and executes one inbound control frame, reporting
// failures back to the sending client only.
func (h *Hub) dispatch(ctx context.Context, c *client, data []byte) {
	var cmd controlFrame
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendTo(c, errorFrame{Type: frameError, Message: "malformed command"})
		return
	}

	ctrl := h.controller()
	if ctrl == nil {
		h.sendTo(c, errorFrame{Type: frameError, Message: "show control unavailable"})
		return
	}

	switch cmd.Type {
	case cmdStartShow:
		if err := ctrl.StartShow(ctx, cmd.RivalryID); err != nil {
			h.sendTo(c, errorFrame{Type: frameError, Message: err.Error()})
		}
	case cmdStopShow:
		ctrl.StopShow()
	case cmdHostMessage:
		ctrl.HostMessage(cmd.Text)
	case cmdSetMicMuted:
		if cmd.Muted != nil {
			ctrl.SetMicMuted(*cmd.Muted)
		}
	case cmdSetPaused:
		if cmd.Paused != nil {
			ctrl.SetPaused(*cmd.Paused)
		}
	case cmdSetLanguage:
		if err := ctrl.SetLanguage(cmd.Language); err != nil {
			h.sendTo(c, errorFrame{Type: frameError, Message: err.Error()})
		}
	default:
		h.sendTo(c, errorFrame{Type: frameError, Message: "unknown command: " + cmd.Type})
	}
}
