package show

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mkoutras/banterbox/pkg/provider/s2s"
	"github.com/mkoutras/banterbox/pkg/provider/s2s/mock"
)

// managerFixture wires a Manager to a mock provider with fast test timings.
type managerFixture struct {
	mu       sync.Mutex
	events   []sentText // agent + event type string
	statuses []AgentStatus
	downs    []AgentID
	resume   func(AgentID) string
}

func (f *managerFixture) onEvent(id AgentID, ev s2s.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentText{id, ev.Type.String()})
}

func (f *managerFixture) onStatus(id AgentID, st AgentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
}

func (f *managerFixture) onDown(id AgentID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, id)
}

func (f *managerFixture) downList() []AgentID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AgentID, len(f.downs))
	copy(out, f.downs)
	return out
}

func (f *managerFixture) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestManager(p s2s.Provider, f *managerFixture) *Manager {
	resume := f.resume
	if resume == nil {
		resume = func(AgentID) string { return "" }
	}
	return NewManager(ManagerConfig{
		Provider:       p,
		OnEvent:        f.onEvent,
		OnStatus:       f.onStatus,
		OnDown:         f.onDown,
		Resume:         resume,
		ConnectTimeout: time.Second,
		RetryDelay:     10 * time.Millisecond,
		InitialRetry:   10 * time.Millisecond,
		ConnectSpacing: time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_ConnectAllCachesHandles(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:])

	if !m.Connected(orionID) || !m.Connected(lunaID) {
		t.Fatal("both agents should have cached handles")
	}
	if got := p.CallCount(); got != 2 {
		t.Errorf("Connect calls = %d, want 2", got)
	}

	// Session config carries composed instructions, voice and capabilities.
	cfg := p.ConnectCalls[0].Cfg
	if cfg.Voice != "Charon" {
		t.Errorf("voice = %q", cfg.Voice)
	}
	if !cfg.InputTranscription || !cfg.OutputTranscription || !cfg.SearchTool {
		t.Errorf("session flags = %+v", cfg)
	}
}

func TestManager_ReconnectUsesCurrentLanguage(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])
	if got := p.ConnectCalls[0].Cfg.Instructions; strings.Contains(got, "Always respond in Greek.") {
		t.Fatalf("english session should not carry the greek suffix: %q", got)
	}

	// A language switch mid-show must reach sessions opened afterwards,
	// including reconnects.
	m.SetLanguage("el")
	m.ConnectAgent(context.Background(), testProfiles[0])

	if got := p.CallCount(); got != 2 {
		t.Fatalf("Connect calls = %d, want 2", got)
	}
	if got := p.ConnectCalls[1].Cfg.Instructions; !strings.Contains(got, "Always respond in Greek.") {
		t.Errorf("reconnect should compose greek instructions: %q", got)
	}
}

func TestManager_ConnectWhenNotRunningIsNoOp(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	f := &managerFixture{}
	m := newTestManager(p, f)

	// Running flag never set: a direct ConnectAgent is a cancellation.
	m.ConnectAgent(context.Background(), testProfiles[0])
	if p.CallCount() != 0 {
		t.Error("connect without running flag should not dial")
	}
}

func TestManager_EventsPumpedToArbiter(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])
	sess.Emit(s2s.Event{Type: s2s.EventTurnComplete})

	waitFor(t, func() bool { return f.eventCount() == 1 }, "event never pumped")
}

func TestManager_ReconnectsAfterStreamClose(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])
	if p.CallCount() != 1 {
		t.Fatalf("initial connects = %d", p.CallCount())
	}

	// Remote close: stream ends, manager evicts, notifies, reconnects.
	sess.EndStream()

	waitFor(t, func() bool { return p.CallCount() >= 2 }, "no reconnect after close")
	waitFor(t, func() bool { return len(f.downList()) >= 1 }, "arbiter never notified of dead session")
	if f.downList()[0] != orionID {
		t.Errorf("down agent = %s", f.downList()[0])
	}

	m.DisconnectAll()
}

func TestManager_NoReconnectAfterDisconnectAll(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])
	m.DisconnectAll()

	if m.Running() {
		t.Error("running flag should clear")
	}
	if !sess.Closed() {
		t.Error("DisconnectAll should close cached sessions")
	}

	// The stream close that follows teardown must not schedule a retry.
	sess.EndStream()
	time.Sleep(50 * time.Millisecond)
	if p.CallCount() != 1 {
		t.Errorf("Connect calls after teardown = %d, want 1", p.CallCount())
	}
}

func TestManager_InitialConnectFailureRetries(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ConnectErrs: []error{errors.New("dial refused"), nil}}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])
	waitFor(t, func() bool { return m.Connected(orionID) }, "retry never succeeded")
	if p.CallCount() < 2 {
		t.Errorf("Connect calls = %d, want at least 2", p.CallCount())
	}

	m.DisconnectAll()
}

func TestManager_SendFailureEvictsWithoutReconnect(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	sess.SendTextErr = errors.New("broken pipe")
	p := &mock.Provider{Session: sess}
	f := &managerFixture{}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])

	if err := m.Send(orionID, "hello"); err == nil {
		t.Fatal("Send should surface the failure")
	}
	if m.Connected(orionID) {
		t.Error("failed send should evict the handle")
	}

	// Eviction alone must not trigger a reconnect.
	time.Sleep(50 * time.Millisecond)
	if p.CallCount() != 1 {
		t.Errorf("Connect calls = %d, want 1 (no reconnect on send failure)", p.CallCount())
	}

	// Send with no cached handle fails cleanly.
	if err := m.Send(orionID, "again"); err == nil {
		t.Error("Send without a handle should fail")
	}

	m.DisconnectAll()
}

func TestManager_ResumePromptSentOnConnect(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	f := &managerFixture{
		resume: func(id AgentID) string {
			if id == orionID {
				return "You got disconnected. Resume your turn with a concise response."
			}
			return ""
		},
	}
	m := newTestManager(p, f)

	m.ConnectAll(context.Background(), testProfiles[:1])

	texts := sess.SentTexts()
	if len(texts) != 1 || texts[0] != "You got disconnected. Resume your turn with a concise response." {
		t.Errorf("resume texts = %+v", texts)
	}

	m.DisconnectAll()
}
