package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkoutras/banterbox/internal/show"
	"github.com/mkoutras/banterbox/internal/transcript"
	"github.com/mkoutras/banterbox/pkg/audio"
)

// fakeController records every dispatched command.
type fakeController struct {
	mu        sync.Mutex
	started   []string
	stopped   int
	messages  []string
	micMuted  []bool
	paused    []bool
	languages []string
	micFrames [][]byte

	startErr error
}

func (f *fakeController) StartShow(_ context.Context, rivalryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, rivalryID)
	return f.startErr
}

func (f *fakeController) StopShow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeController) HostMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
}

func (f *fakeController) SetMicMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micMuted = append(f.micMuted, muted)
}

func (f *fakeController) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, paused)
}

func (f *fakeController) SetLanguage(language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, language)
	return nil
}

func (f *fakeController) MicFrame(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micFrames = append(f.micFrames, pcm)
}

// snapshot returns copies of the recorded state under the lock.
func (f *fakeController) snapshot() fakeController {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeController{
		started:   append([]string(nil), f.started...),
		stopped:   f.stopped,
		messages:  append([]string(nil), f.messages...),
		micMuted:  append([]bool(nil), f.micMuted...),
		paused:    append([]bool(nil), f.paused...),
		languages: append([]string(nil), f.languages...),
		micFrames: append([][]byte(nil), f.micFrames...),
	}
}

// dialHub starts a hub-only server and returns a connected client.
func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readFrame reads the next text frame and decodes its type envelope.
func readFrame(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return envelope.Type, data
}

// waitClients polls until the hub sees n connected clients.
func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsSinkOutput(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	hub.ConversationState(show.ConversationSnapshot{
		ActiveAgent: "orion",
		Paused:      true,
		Awaiting:    map[show.AgentID]bool{"orion": true},
	})

	typ, data := readFrame(t, conn)
	if typ != frameConversationState {
		t.Fatalf("frame type = %q, want %q", typ, frameConversationState)
	}
	var f conversationStateFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.State.ActiveAgent != "orion" || !f.State.Paused {
		t.Errorf("state = %+v", f.State)
	}
	if !f.State.Awaiting["orion"] {
		t.Error("awaiting flag should reach the client")
	}
}

func TestHub_BroadcastsAudioWithSchedule(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	hub.Audio("luna", pcm, audio.Slot{
		Delay:    250 * time.Millisecond,
		Duration: 1200 * time.Millisecond,
	})

	typ, data := readFrame(t, conn)
	if typ != frameAudio {
		t.Fatalf("frame type = %q, want %q", typ, frameAudio)
	}
	var f audioFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Agent != "luna" || f.SampleRate != audio.OutputSampleRate {
		t.Errorf("frame = %+v", f)
	}
	if f.DelayMs != 250 || f.DurationMs != 1200 {
		t.Errorf("schedule = %d/%d ms, want 250/1200", f.DelayMs, f.DurationMs)
	}
	if string(f.PCM) != string(pcm) {
		t.Error("PCM payload did not round-trip")
	}
	if f.Peak != audio.Peak(pcm) || f.Level != audio.RMS(pcm) {
		t.Errorf("levels = %v/%v, want %v/%v", f.Peak, f.Level, audio.Peak(pcm), audio.RMS(pcm))
	}
}

func TestHub_BroadcastsTranscriptEntries(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	hub.TranscriptEntry(transcript.Entry{ID: 7, Speaker: "Dr. Orion", Text: "entropy always wins", Type: transcript.TypeAI})

	typ, data := readFrame(t, conn)
	if typ != frameTranscript {
		t.Fatalf("frame type = %q, want %q", typ, frameTranscript)
	}
	var f transcriptFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Entry.ID != 7 || f.Entry.Speaker != "Dr. Orion" {
		t.Errorf("entry = %+v", f.Entry)
	}
}

func TestHub_DispatchesCommands(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	ctrl := &fakeController{}
	hub.SetController(ctrl)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	commands := []string{
		`{"type":"start_show","rivalryId":"science-showdown"}`,
		`{"type":"host_message","text":"settle down, both of you"}`,
		`{"type":"set_mic_muted","muted":false}`,
		`{"type":"set_paused","paused":true}`,
		`{"type":"set_language","language":"el"}`,
		`{"type":"stop_show"}`,
	}
	for _, cmd := range commands {
		if err := conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
			t.Fatalf("write command: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := ctrl.snapshot()
		if got.stopped == 1 {
			if len(got.started) != 1 || got.started[0] != "science-showdown" {
				t.Errorf("started = %v", got.started)
			}
			if len(got.messages) != 1 || got.messages[0] != "settle down, both of you" {
				t.Errorf("messages = %v", got.messages)
			}
			if len(got.micMuted) != 1 || got.micMuted[0] {
				t.Errorf("micMuted = %v", got.micMuted)
			}
			if len(got.paused) != 1 || !got.paused[0] {
				t.Errorf("paused = %v", got.paused)
			}
			if len(got.languages) != 1 || got.languages[0] != "el" {
				t.Errorf("languages = %v", got.languages)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("commands not dispatched: %+v", &got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BinaryFramesFeedMicrophone(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	ctrl := &fakeController{}
	hub.SetController(ctrl)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		t.Fatalf("write mic frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := ctrl.snapshot()
		if len(got.micFrames) == 1 {
			if string(got.micFrames[0]) != string(pcm) {
				t.Errorf("mic frame = %v, want %v", got.micFrames[0], pcm)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("mic frame not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StartShowErrorReportedToSender(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	ctrl := &fakeController{startErr: errors.New("a show is already running")}
	hub.SetController(ctrl)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"start_show","rivalryId":"x"}`)); err != nil {
		t.Fatalf("write command: %v", err)
	}

	typ, data := readFrame(t, conn)
	if typ != frameError {
		t.Fatalf("frame type = %q, want %q", typ, frameError)
	}
	var f errorFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Message != "a show is already running" {
		t.Errorf("message = %q", f.Message)
	}
}

func TestHub_UnknownCommandAnsweredWithError(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	hub.SetController(&fakeController{})
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write command: %v", err)
	}

	typ, _ := readFrame(t, conn)
	if typ != frameError {
		t.Errorf("frame type = %q, want %q", typ, frameError)
	}
}

func TestHub_NoControllerAnsweredWithError(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop_show"}`)); err != nil {
		t.Fatalf("write command: %v", err)
	}

	typ, _ := readFrame(t, conn)
	if typ != frameError {
		t.Errorf("frame type = %q, want %q", typ, frameError)
	}
}

func TestHub_ReplaysSnapshotOnConnect(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	hub.SetSnapshotter(func() StateSnapshot {
		return StateSnapshot{
			Running:      true,
			RivalryID:    "science-showdown",
			Language:     "en",
			Conversation: &show.ConversationSnapshot{ActiveAgent: "orion"},
			Transcript: []transcript.Entry{
				{ID: 1, Speaker: "Moderator", Text: "welcome", Type: transcript.TypeUser},
				{ID: 2, Speaker: "Dr. Orion", Text: "thanks for nothing", Type: transcript.TypeAI},
			},
		}
	})
	conn := dialHub(t, hub)

	typ, data := readFrame(t, conn)
	if typ != frameShowState {
		t.Fatalf("frame type = %q, want %q", typ, frameShowState)
	}
	var f showStateFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.Running || f.RivalryID != "science-showdown" {
		t.Errorf("show state = %+v", f)
	}

	typ, data = readFrame(t, conn)
	if typ != frameConversationState {
		t.Fatalf("frame type = %q, want %q", typ, frameConversationState)
	}
	var cs conversationStateFrame
	if err := json.Unmarshal(data, &cs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cs.State.ActiveAgent != "orion" {
		t.Errorf("active agent = %q, want orion", cs.State.ActiveAgent)
	}

	for want := int64(1); want <= 2; want++ {
		typ, data = readFrame(t, conn)
		if typ != frameTranscript {
			t.Fatalf("frame type = %q, want %q", typ, frameTranscript)
		}
		var tf transcriptFrame
		if err := json.Unmarshal(data, &tf); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tf.Entry.ID != want {
			t.Errorf("transcript entry ID = %d, want %d", tf.Entry.ID, want)
		}
	}
}

func TestHub_BroadcastDropsStalledClient(t *testing.T) {
	hub := NewHub(slog.Default(), nil)

	// Register a client with no queue capacity and no write loop, so the
	// very first broadcast finds its send queue full.
	registered := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := &client{
			conn:   conn,
			send:   make(chan []byte),
			remote: r.RemoteAddr,
			closed: make(chan struct{}),
		}
		hub.mu.Lock()
		hub.clients[c] = struct{}{}
		hub.mu.Unlock()
		close(registered)
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	<-registered

	hub.Broadcast(laughCueFrame{Type: frameLaughCue})

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("clients = %d, want 0 after overflow", got)
	}
}

func TestHub_ClientCountTracksDisconnect(t *testing.T) {
	hub := NewHub(slog.Default(), nil)
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, hub, 0)
}
