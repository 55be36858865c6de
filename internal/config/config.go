// Package config provides the configuration schema, loader, and provider
// registry for the banterbox show server.
package config

// LogLevel controls log verbosity for the banterbox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for banterbox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Provider  ProviderEntry `yaml:"provider"`
	Show      ShowConfig    `yaml:"show"`
	Rivalries []Rivalry     `yaml:"rivalries"`
}

// ServerConfig holds network, auth and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AccessPassword is the shared secret the login endpoint checks. When
	// empty, login is open.
	AccessPassword string `yaml:"access_password"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry selects and configures the speech-to-speech backend. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered backend (e.g., "gemini-live",
	// "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API. The
	// BANTERBOX_API_KEY environment variable takes precedence when set.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Leave empty to use
	// the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`
}

// ShowConfig holds show-wide defaults.
type ShowConfig struct {
	// Language is the UI language at startup ("en" or "el"). Defaults to
	// "en".
	Language string `yaml:"language"`
}

// Rivalry is a named pairing of two guest personas that can be booked as a
// show.
type Rivalry struct {
	// ID uniquely identifies the rivalry (e.g., "science-showdown").
	ID string `yaml:"id"`

	// Name is the display title (e.g., "Science Showdown").
	Name string `yaml:"name"`

	// Description is a one-line teaser shown in the booking UI.
	Description string `yaml:"description"`

	// Guests are the two personas, in turn order: the first guest opens.
	Guests []Guest `yaml:"guests"`
}

// Guest describes one persona.
type Guest struct {
	// ID uniquely identifies the guest within its rivalry.
	ID string `yaml:"id"`

	// Name is the on-air display name (e.g., "Dr. Orion").
	Name string `yaml:"name"`

	// Voice is the backend voice identifier (e.g., "Charon").
	Voice string `yaml:"voice"`

	// Role is a short on-screen descriptor (e.g., "Theatrical Astrophysicist").
	Role string `yaml:"role"`

	// Instruction is the persona system prompt. Style and language rules are
	// appended at connect time.
	Instruction string `yaml:"instruction"`
}
