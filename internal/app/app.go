// Package app wires all Banterbox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control surface until the context ends, and
// Shutdown tears everything down in order. App also implements the show
// control API behind the WebSocket hub: starting and stopping shows,
// moderator interjections, microphone frames, and pause/mute/language
// toggles.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mkoutras/banterbox/internal/config"
	"github.com/mkoutras/banterbox/internal/health"
	"github.com/mkoutras/banterbox/internal/observe"
	"github.com/mkoutras/banterbox/internal/server"
	"github.com/mkoutras/banterbox/internal/show"
	"github.com/mkoutras/banterbox/internal/transcript"
	"github.com/mkoutras/banterbox/pkg/audio"
	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// liveShow bundles everything that exists only while a show runs.
type liveShow struct {
	rivalry config.Rivalry
	arbiter *show.Arbiter
	manager *show.Manager
	cancel  context.CancelFunc
}

// App owns all subsystem lifetimes and implements [server.Controller].
type App struct {
	cfg      *config.Config
	provider s2s.Provider
	metrics  *observe.Metrics
	log      *slog.Logger

	feed *transcript.Feed
	gate *show.Gate
	hub  *server.Hub
	srv  *server.Server

	mu       sync.Mutex
	language string
	current  *liveShow

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger instead of slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App by wiring all subsystems together. The provider comes
// from main.go via the config registry.
func New(cfg *config.Config, provider s2s.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, fmt.Errorf("app: a speech provider is required")
	}

	a := &App{
		cfg:      cfg,
		provider: provider,
		feed:     transcript.New(),
		gate:     &show.Gate{},
		language: cfg.Show.Language,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── Hub ──────────────────────────────────────────────────────────────
	a.hub = server.NewHub(a.log, a.metrics)
	a.hub.SetController(a)
	a.hub.SetSnapshotter(a.stateSnapshot)
	a.feed.Subscribe(func(e transcript.Entry) {
		// Count each line once, when it freezes.
		if !e.Streaming {
			a.metrics.TranscriptEntries.Add(context.Background(), 1,
				metric.WithAttributes(observe.Attr("type", string(e.Type))))
		}
		a.hub.TranscriptEntry(e)
	})

	// ── Control surface ──────────────────────────────────────────────────
	healthHandler := health.New(
		health.SessionChecker("sessions", a.ShowRunning, a.connectedSessions),
	)
	a.srv = server.New(cfg.Server, cfg.Rivalries, a.hub, healthHandler, a.metrics, a.log)

	return a, nil
}

// Hub exposes the WebSocket hub, mainly for tests.
func (a *App) Hub() *server.Hub { return a.hub }

// Feed exposes the transcript feed, mainly for tests.
func (a *App) Feed() *transcript.Feed { return a.feed }

// Run serves the control surface until ctx is cancelled, then stops any
// running show.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.srv.Run(ctx) })

	err := g.Wait()
	a.StopShow()
	return err
}

// Shutdown stops the running show and releases remote sessions. Safe to
// call more than once.
func (a *App) Shutdown(_ context.Context) error {
	a.stopOnce.Do(func() {
		a.StopShow()
		a.log.Info("shutdown complete")
	})
	return nil
}

// ShowRunning reports whether a show is currently live.
func (a *App) ShowRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// connectedSessions counts live agent sessions for the readiness probe.
func (a *App) connectedSessions() int {
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur == nil {
		return 0
	}
	n := 0
	for _, g := range cur.rivalry.Guests {
		if cur.manager.Connected(show.AgentID(g.ID)) {
			n++
		}
	}
	return n
}

// stateSnapshot assembles the replay payload for newly connected clients.
func (a *App) stateSnapshot() server.StateSnapshot {
	a.mu.Lock()
	cur := a.current
	language := a.language
	a.mu.Unlock()

	snap := server.StateSnapshot{
		Language:   language,
		Transcript: a.feed.Snapshot(),
	}
	if cur != nil {
		snap.Running = true
		snap.RivalryID = cur.rivalry.ID
		conv := cur.arbiter.Snapshot()
		snap.Conversation = &conv
		snap.Statuses = cur.manager.Statuses()
		for id, st := range snap.Statuses {
			st.AwaitingAudio = conv.Awaiting[id]
			snap.Statuses[id] = st
		}
	}
	return snap
}

// profilesFromRivalry converts the two configured guests into arbiter
// profiles, first guest opening the show.
func profilesFromRivalry(r config.Rivalry) [2]show.Profile {
	var ps [2]show.Profile
	for i, g := range r.Guests[:2] {
		ps[i] = show.Profile{
			ID:          show.AgentID(g.ID),
			Name:        g.Name,
			Voice:       g.Voice,
			Role:        g.Role,
			Instruction: g.Instruction,
		}
	}
	return ps
}

// newScheduler is swapped in tests to inject a fake clock.
var newScheduler = audio.NewScheduler
