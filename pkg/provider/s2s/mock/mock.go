// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the event stream and inspect which inputs the
// show orchestrator delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventTurnComplete})
package mock

import (
	"context"
	"sync"

	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh default Session.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectErrs, if non-empty, is consumed one element per Connect call
	// before falling back to ConnectErr. A nil element means success. Useful
	// for scripting fail-then-succeed reconnect scenarios.
	ConnectErrs []error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session or the scripted error.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})

	if len(p.ConnectErrs) > 0 {
		err := p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}

	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// CallCount returns the number of recorded Connect calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. Tests feed events
// through Emit and inspect recorded inputs through SentTexts / SentAudio.
type Session struct {
	mu sync.Mutex

	// SendTextErr, if non-nil, is returned from SendText.
	SendTextErr error
	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error
	// ErrVal is returned by Err.
	ErrVal error

	sentTexts []string
	sentAudio [][]byte
	closed    bool

	events chan s2s.Event
	done   chan struct{}
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		done:   make(chan struct{}),
	}
}

// Emit delivers ev on the session's event stream. It is a no-op after Close.
func (s *Session) Emit(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// EndStream closes the event channel, simulating remote disconnect. Call at
// most once, and not after Close.
func (s *Session) EndStream() {
	close(s.events)
}

// SendText records the text and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentTexts = append(s.sentTexts, text)
	return s.SendTextErr
}

// SendAudio records a copy of the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sentAudio = append(s.sentAudio, cp)
	return s.SendAudioErr
}

// Events returns the session's event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close marks the session closed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Closed reports whether Close was called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentTexts returns a copy of all texts delivered via SendText. Thread-safe.
func (s *Session) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentTexts))
	copy(out, s.sentTexts)
	return out
}

// SentAudio returns a copy of all chunks delivered via SendAudio. Thread-safe.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
