package show

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkoutras/banterbox/pkg/audio"
	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// Reconnect and connect timing. Timers check the show-running flag before
// acting, so teardown never has to cancel them individually.
const (
	defaultConnectTimeout = 15 * time.Second
	defaultRetryDelay     = 2 * time.Second  // after mid-session error or close
	defaultInitialRetry   = 3 * time.Second  // after an initial-connect failure
	defaultConnectSpacing = 500 * time.Millisecond
)

// EventFunc receives every remote-session event, tagged with its agent.
type EventFunc func(AgentID, s2s.Event)

// StatusFunc receives agent connection-status changes.
type StatusFunc func(AgentID, AgentStatus)

// DownFunc is called when an agent's session dies (error or close) so the
// arbiter can release turn ownership tied to a dead session.
type DownFunc func(AgentID)

// ResumeFunc is consulted after a successful reconnect. If it returns a
// non-empty prompt, the manager sends it on the fresh session — this is how
// the active agent is told to pick its turn back up.
type ResumeFunc func(AgentID) string

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Provider opens remote sessions.
	Provider s2s.Provider

	// Language selects the instruction language suffix at connect time.
	Language string

	// OnEvent, OnStatus, OnDown, Resume wire the manager to the arbiter and
	// the UI. OnEvent must be non-nil; the others may be nil.
	OnEvent  EventFunc
	OnStatus StatusFunc
	OnDown   DownFunc
	Resume   ResumeFunc

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Timing overrides, used by tests. Zero values select the defaults.
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	InitialRetry   time.Duration
	ConnectSpacing time.Duration
}

// Manager owns the two remote agent sessions: it connects them, pumps their
// events to the arbiter, and transparently reconnects with a fixed backoff
// for as long as the show is running. All methods are safe for concurrent
// use.
type Manager struct {
	provider s2s.Provider
	onEvent  EventFunc
	onStatus StatusFunc
	onDown   DownFunc
	resume   ResumeFunc
	log      *slog.Logger

	connectTimeout time.Duration
	retryDelay     time.Duration
	initialRetry   time.Duration
	connectSpacing time.Duration

	mu       sync.Mutex
	running  bool
	language string
	handles  map[AgentID]s2s.SessionHandle
	statuses map[AgentID]AgentStatus
}

// NewManager creates a Manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		provider:       cfg.Provider,
		language:       cfg.Language,
		onEvent:        cfg.OnEvent,
		onStatus:       cfg.OnStatus,
		onDown:         cfg.OnDown,
		resume:         cfg.Resume,
		log:            log,
		connectTimeout: cfg.ConnectTimeout,
		retryDelay:     cfg.RetryDelay,
		initialRetry:   cfg.InitialRetry,
		connectSpacing: cfg.ConnectSpacing,
		handles:        make(map[AgentID]s2s.SessionHandle),
		statuses:       make(map[AgentID]AgentStatus),
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = defaultConnectTimeout
	}
	if m.retryDelay <= 0 {
		m.retryDelay = defaultRetryDelay
	}
	if m.initialRetry <= 0 {
		m.initialRetry = defaultInitialRetry
	}
	if m.connectSpacing <= 0 {
		m.connectSpacing = defaultConnectSpacing
	}
	return m
}

// ConnectAll marks the show running and connects the given profiles
// sequentially with a fixed spacing between attempts. Sequential connection
// avoids bursting the remote service's rate limits. Individual connect
// failures are not fatal: each failed agent schedules its own retry.
func (m *Manager) ConnectAll(ctx context.Context, profiles []Profile) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	for i, p := range profiles {
		if i > 0 {
			select {
			case <-time.After(m.connectSpacing):
			case <-ctx.Done():
				return
			}
		}
		m.ConnectAgent(ctx, p)
	}
}

// ConnectAgent opens a session for one profile. It is a no-op when the show
// is not running (teardown raced the call). On failure it schedules a retry;
// on success it caches the handle, starts the event pump, and sends any
// resume prompt the arbiter supplies.
func (m *Manager) ConnectAgent(ctx context.Context, p Profile) {
	if !m.Running() {
		return
	}

	m.setStatus(p.ID, AgentStatus{Status: StatusConnecting})

	// Read the language at connect time, not show start: an agent that
	// reconnects after a mid-show switch must come back in the new language.
	m.mu.Lock()
	language := m.language
	m.mu.Unlock()

	cfg := s2s.SessionConfig{
		Instructions:        ComposeInstruction(p, language),
		Voice:               p.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
		SearchTool:          true,
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	handle, err := m.provider.Connect(dialCtx, cfg)
	cancel()
	if err != nil {
		m.log.Warn("agent connect failed", "agent", p.ID, "err", err)
		m.setStatus(p.ID, AgentStatus{Status: StatusError, ErrorMessage: "Connection Error"})
		m.scheduleReconnect(ctx, p, m.initialRetry)
		return
	}

	m.mu.Lock()
	if !m.running {
		// Teardown won the race; discard the fresh session. Its event stream
		// was never pumped, so drain it until close finishes.
		m.mu.Unlock()
		go audio.Drain(handle.Events())
		_ = handle.Close()
		return
	}
	m.handles[p.ID] = handle
	m.mu.Unlock()

	m.setStatus(p.ID, AgentStatus{Status: StatusActive})
	m.log.Info("agent connected", "agent", p.ID, "name", p.Name)

	go m.pump(ctx, p, handle)

	if m.resume != nil {
		if prompt := m.resume(p.ID); prompt != "" {
			if err := m.Send(p.ID, prompt); err != nil {
				m.log.Warn("resume prompt failed", "agent", p.ID, "err", err)
			}
		}
	}
}

// pump forwards session events to the arbiter until the event stream closes,
// then runs the death path: evict, notify, schedule reconnect.
func (m *Manager) pump(ctx context.Context, p Profile, handle s2s.SessionHandle) {
	for ev := range handle.Events() {
		m.onEvent(p.ID, ev)
	}

	// Stream closed: mid-session error or remote close.
	m.mu.Lock()
	// Only evict if this handle is still the cached one; a newer session may
	// already have replaced it.
	if m.handles[p.ID] == handle {
		delete(m.handles, p.ID)
	}
	running := m.running
	m.mu.Unlock()

	if err := handle.Err(); err != nil {
		m.log.Warn("agent session lost", "agent", p.ID, "err", err)
		m.setStatus(p.ID, AgentStatus{Status: StatusError, ErrorMessage: "Connection Error"})
	} else {
		m.log.Warn("agent session closed", "agent", p.ID)
		m.setStatus(p.ID, AgentStatus{Status: StatusDisconnected})
	}

	if m.onDown != nil {
		m.onDown(p.ID)
	}

	if running {
		m.scheduleReconnect(ctx, p, m.retryDelay)
	}
}

// scheduleReconnect arms a retry timer. The timer re-checks the running flag
// when it fires, so late firings after teardown are harmless no-ops.
func (m *Manager) scheduleReconnect(ctx context.Context, p Profile, delay time.Duration) {
	if !m.Running() {
		return
	}
	m.log.Info("scheduling reconnect", "agent", p.ID, "delay", delay)
	time.AfterFunc(delay, func() {
		if !m.Running() {
			return
		}
		m.ConnectAgent(ctx, p)
	})
}

// DisconnectAll clears the running flag (suppressing all future retries) and
// best-effort closes every cached session.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	m.running = false
	handles := m.handles
	m.handles = make(map[AgentID]s2s.SessionHandle)
	m.statuses = make(map[AgentID]AgentStatus)
	m.mu.Unlock()

	for id, h := range handles {
		if err := h.Close(); err != nil {
			m.log.Debug("session close", "agent", id, "err", err)
		}
	}
}

// Send delivers a text message to an agent's session. Returns an error when
// no handle is cached. A failed send evicts the handle (dead connection) but
// does not itself trigger a reconnect — the session's own event-stream close
// is the sole reconnect trigger.
func (m *Manager) Send(id AgentID, text string) error {
	m.mu.Lock()
	handle, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("show: no session for agent %s", id)
	}
	if err := handle.SendText(text); err != nil {
		m.evict(id, handle)
		return fmt.Errorf("show: send to agent %s: %w", id, err)
	}
	return nil
}

// SendAudio delivers a raw mic PCM frame to an agent's session. Same
// eviction semantics as Send.
func (m *Manager) SendAudio(id AgentID, pcm []byte) error {
	m.mu.Lock()
	handle, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("show: no session for agent %s", id)
	}
	if err := handle.SendAudio(pcm); err != nil {
		m.evict(id, handle)
		return fmt.Errorf("show: send audio to agent %s: %w", id, err)
	}
	return nil
}

func (m *Manager) evict(id AgentID, handle s2s.SessionHandle) {
	m.mu.Lock()
	if m.handles[id] == handle {
		delete(m.handles, id)
	}
	m.mu.Unlock()
}

// Broadcast sends text to every connected agent, logging per-agent failures.
func (m *Manager) Broadcast(text string) {
	m.mu.Lock()
	ids := make([]AgentID, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Send(id, text); err != nil {
			m.log.Warn("broadcast failed", "agent", id, "err", err)
		}
	}
}

// Connected reports whether a session handle is cached for the agent.
func (m *Manager) Connected(id AgentID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[id]
	return ok
}

// Running reports the show-running flag.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Statuses returns a snapshot of all agent statuses.
func (m *Manager) Statuses() map[AgentID]AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[AgentID]AgentStatus, len(m.statuses))
	for id, st := range m.statuses {
		out[id] = st
	}
	return out
}

// SetLanguage changes the instruction language used by future connects and
// reconnects. Already-connected sessions are switched by the arbiter's
// in-band prompt.
func (m *Manager) SetLanguage(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.language = language
}

func (m *Manager) setStatus(id AgentID, st AgentStatus) {
	m.mu.Lock()
	m.statuses[id] = st
	m.mu.Unlock()
	if m.onStatus != nil {
		m.onStatus(id, st)
	}
}
