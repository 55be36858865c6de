// Package s2s defines the Provider interface for real-time speech-to-speech
// inference backends.
//
// An S2S provider wraps a remote voice AI service that accepts streamed audio
// and text input and returns synthesised audio plus transcription in a single,
// stateful session. Examples include Gemini Live and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional session whose
// inbound side is a single ordered stream of typed Events. Sessions are
// long-lived (minutes) and carry one agent persona each; the orchestration
// layer opens one session per show guest.
//
// Transcription text semantics: every transcription Event carries a DELTA
// fragment, exactly as received in one server message. Consumers accumulate
// fragments explicitly; no Event field is ever cumulative. Implementations
// must preserve this invariant even when the underlying wire protocol differs.
//
// All implementations must be safe for concurrent use.
package s2s

import "context"

// EventType discriminates the payload of an [Event].
type EventType int

const (
	// EventInputTranscription is a speech-recognition fragment of the audio
	// the client sent (the moderator's voice). Text holds the delta fragment.
	EventInputTranscription EventType = iota

	// EventOutputTranscription is a text fragment of the model's spoken
	// response. Text holds the delta fragment.
	EventOutputTranscription

	// EventAudio is a chunk of synthesised speech. Audio holds raw PCM,
	// 24 kHz, 16-bit signed little-endian, mono.
	EventAudio

	// EventTurnComplete signals the model finished its current response turn.
	EventTurnComplete

	// EventInterrupted signals the model abandoned the current response,
	// typically because new input arrived mid-generation. Any buffered
	// playback for this session should be discarded.
	EventInterrupted

	// EventError carries a non-fatal in-session error from the provider.
	// The session remains open; fatal failures close the Events channel
	// instead and are reported via [SessionHandle.Err].
	EventError
)

// String returns the wire-style name of the event type.
func (t EventType) String() string {
	switch t {
	case EventInputTranscription:
		return "input_transcription"
	case EventOutputTranscription:
		return "output_transcription"
	case EventAudio:
		return "audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound message from a live session, already decoded.
// Exactly one payload field is meaningful, selected by Type.
type Event struct {
	Type EventType

	// Text is the transcription delta fragment for the two transcription
	// event types. May contain the provider's inline delivery-cue tags
	// (e.g. "[LAUGH]") verbatim; stripping is the consumer's concern.
	Text string

	// Audio is decoded PCM for EventAudio (24 kHz s16le mono).
	Audio []byte

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the fully composed persona prompt for this agent,
	// including any global style and language suffixes.
	Instructions string

	// Voice is the provider-specific prebuilt voice identifier.
	Voice string

	// InputTranscription requests speech-to-text of the audio the client sends.
	InputTranscription bool

	// OutputTranscription requests text fragments of the model's spoken output.
	OutputTranscription bool

	// SearchTool enables the provider's built-in web-search augmentation,
	// when the backend offers one. Backends without search ignore this flag.
	SearchTool bool
}

// Capabilities describes static properties of a provider backend.
type Capabilities struct {
	// InputSampleRate is the PCM sample rate the session expects on SendAudio.
	InputSampleRate int

	// OutputSampleRate is the PCM sample rate of EventAudio chunks.
	OutputSampleRate int

	// SupportsSearch reports whether SessionConfig.SearchTool has any effect.
	SupportsSearch bool

	// Voices lists the prebuilt voice identifiers the backend accepts.
	Voices []string
}

// SessionHandle is an open real-time session. It is an interface so that
// orchestration code can be tested against in-memory doubles.
//
// The session is the hot path of the show pipeline: SendAudio is called per
// microphone frame and must return quickly. All methods are safe for
// concurrent use. Callers must call Close when the session is no longer
// needed.
type SessionHandle interface {
	// SendText delivers a realtime text input (host message, handoff prompt,
	// system line) to the model. Returns an error if the session is closed
	// or the underlying write fails; a write failure means the session is
	// dead and the caller should discard the handle.
	SendText(text string) error

	// SendAudio delivers one raw PCM chunk (16 kHz, s16le, mono) to the model.
	SendAudio(chunk []byte) error

	// Events returns the ordered stream of inbound session events. Events
	// from one session are delivered in the order the provider emitted them.
	// The channel is closed when the session ends for any reason; check
	// [SessionHandle.Err] afterwards to distinguish clean close from failure.
	// Consumers must drain promptly to avoid stalling the receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it was
	// closed cleanly. Valid only after the Events channel has closed.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Provider is the abstraction over any real-time inference backend.
//
// Implementations must be safe for concurrent use: the session manager opens
// one session per show guest, and reconnects may overlap with teardown.
type Provider interface {
	// Connect establishes a new session with the given configuration.
	// The returned SessionHandle is ready to accept input immediately.
	// The caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() Capabilities
}
