package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mkoutras/banterbox/internal/observe"
	"github.com/mkoutras/banterbox/internal/server"
	"github.com/mkoutras/banterbox/internal/show"
	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// compile-time check: App is the hub's show controller.
var _ server.Controller = (*App)(nil)

// StartShow brings a rivalry on air: it builds the arbiter and session
// manager, connects both agents, and broadcasts the new lifecycle state.
// Only one show may run at a time.
func (a *App) StartShow(_ context.Context, rivalryID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		return fmt.Errorf("a show is already running: %s", a.current.rivalry.ID)
	}

	rivalry, ok := a.cfg.FindRivalry(rivalryID)
	if !ok {
		return fmt.Errorf("unknown rivalry: %q", rivalryID)
	}

	profiles := profilesFromRivalry(rivalry)

	// The manager's callbacks close over the arbiter variable; events only
	// start flowing once ConnectAll runs, well after both exist.
	var arb *show.Arbiter

	// Per-show instrumentation state, shared across callback goroutines.
	bg := context.Background()
	var statMu sync.Mutex
	turnStart := time.Now()
	sessionUp := make(map[show.AgentID]bool)

	manager := show.NewManager(show.ManagerConfig{
		Provider: a.provider,
		Language: a.language,
		OnEvent: func(id show.AgentID, ev s2s.Event) {
			a.metrics.RecordAgentEvent(bg, string(id), ev.Type.String())
			if ev.Type == s2s.EventTurnComplete {
				statMu.Lock()
				a.metrics.TurnDuration.Record(bg, time.Since(turnStart).Seconds(),
					metric.WithAttributes(observe.Attr("agent", string(id))))
				turnStart = time.Now()
				statMu.Unlock()
				a.metrics.TurnHandoffs.Add(bg, 1)
			}
			arb.HandleEvent(id, ev)
		},
		OnStatus: func(id show.AgentID, st show.AgentStatus) {
			up := st.Status == show.StatusActive
			statMu.Lock()
			if up != sessionUp[id] {
				sessionUp[id] = up
				delta := int64(-1)
				if up {
					delta = 1
				}
				a.metrics.ActiveSessions.Add(bg, delta,
					metric.WithAttributes(observe.Attr("agent", string(id))))
			}
			statMu.Unlock()
			if st.Status == show.StatusError {
				a.metrics.RecordProviderError(bg, string(id))
			}
			st.AwaitingAudio = arb.AwaitingAudio(id)
			a.hub.AgentStatus(id, st)
		},
		OnDown: func(id show.AgentID) {
			// Teardown also lands here; only live-show drops retry.
			if a.ShowRunning() {
				a.metrics.RecordReconnect(bg, string(id), "scheduled")
			}
			arb.AgentDown(id)
		},
		Resume: func(id show.AgentID) string {
			return arb.ResumePromptFor(id)
		},
		Logger: a.log,
	})

	arb = show.NewArbiter(show.ArbiterConfig{
		Profiles: profiles,
		Feed:     a.feed,
		Sender:   manager,
		Sched:    newScheduler(),
		Gate:     a.gate,
		Sink:     a.hub,
		Laugh:    show.NewLaughGate(),
		Language: a.language,
		Logger:   a.log,
	})

	arb.Begin()

	showCtx, cancel := context.WithCancel(context.Background())
	a.current = &liveShow{
		rivalry: rivalry,
		arbiter: arb,
		manager: manager,
		cancel:  cancel,
	}

	go manager.ConnectAll(showCtx, profiles[:])

	a.hub.ShowState(true, rivalry.ID, a.language)
	a.log.Info("show started", "rivalry", rivalry.ID,
		"guests", []string{rivalry.Guests[0].Name, rivalry.Guests[1].Name})
	return nil
}

// StopShow takes the current show off air, closing both remote sessions.
// The transcript survives so the audience can scroll back after the show.
func (a *App) StopShow() {
	a.mu.Lock()
	cur := a.current
	a.current = nil
	a.mu.Unlock()

	if cur == nil {
		return
	}

	cur.cancel()
	cur.manager.DisconnectAll()
	cur.arbiter.End()

	a.hub.ShowState(false, "", a.languageSnapshot())
	a.log.Info("show stopped", "rivalry", cur.rivalry.ID)
}

// HostMessage relays a moderator interjection into the running show.
func (a *App) HostMessage(text string) {
	if cur := a.currentShow(); cur != nil {
		a.metrics.HostMessages.Add(context.Background(), 1)
		cur.arbiter.SendHostMessage(text)
	}
}

// SetMicMuted toggles the moderator microphone.
func (a *App) SetMicMuted(muted bool) {
	if cur := a.currentShow(); cur != nil {
		cur.arbiter.SetMicMuted(muted)
	}
}

// SetPaused freezes or resumes the running show.
func (a *App) SetPaused(paused bool) {
	if cur := a.currentShow(); cur != nil {
		cur.arbiter.SetPaused(paused)
	}
}

// SetLanguage switches the show language. The new language applies to the
// running show immediately and to every show started afterwards.
func (a *App) SetLanguage(language string) error {
	switch language {
	case "en", "el":
	default:
		return fmt.Errorf("unsupported language: %q", language)
	}

	a.mu.Lock()
	a.language = language
	cur := a.current
	a.mu.Unlock()

	if cur != nil {
		cur.arbiter.SetLanguage(language)
		cur.manager.SetLanguage(language)
	}
	return nil
}

// MicFrame forwards one captured moderator microphone frame to the running
// show's gate.
func (a *App) MicFrame(pcm []byte) {
	if cur := a.currentShow(); cur != nil {
		cur.arbiter.MicFrame(pcm)
	}
}

func (a *App) currentShow() *liveShow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *App) languageSnapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}
