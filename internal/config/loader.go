package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known speech-to-speech backend names.
// [Validate] warns about unrecognised names rather than rejecting them, so
// externally registered backends still work.
var ValidProviderNames = []string{"gemini-live", "openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and applies
// defaults. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.AccessPassword == "" {
		slog.Warn("server.access_password is empty; the login endpoint will accept any password")
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unrecognised provider name; expecting an externally registered backend",
			"name", cfg.Provider.Name, "known", ValidProviderNames)
	}

	switch cfg.Show.Language {
	case "":
		cfg.Show.Language = "en"
	case "en", "el":
	default:
		errs = append(errs, fmt.Errorf("show.language %q is invalid; valid values: en, el", cfg.Show.Language))
	}

	if len(cfg.Rivalries) == 0 {
		errs = append(errs, errors.New("at least one rivalry is required"))
	}

	rivalryIDs := make(map[string]int, len(cfg.Rivalries))
	for i, r := range cfg.Rivalries {
		prefix := fmt.Sprintf("rivalries[%d]", i)
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := rivalryIDs[r.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of rivalries[%d]", prefix, r.ID, prev))
		} else {
			rivalryIDs[r.ID] = i
		}
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if len(r.Guests) != 2 {
			errs = append(errs, fmt.Errorf("%s must have exactly 2 guests, got %d", prefix, len(r.Guests)))
			continue
		}
		guestIDs := make(map[string]bool, 2)
		for j, g := range r.Guests {
			gp := fmt.Sprintf("%s.guests[%d]", prefix, j)
			if g.ID == "" {
				errs = append(errs, fmt.Errorf("%s.id is required", gp))
			} else if guestIDs[g.ID] {
				errs = append(errs, fmt.Errorf("%s.id %q duplicates the other guest", gp, g.ID))
			}
			guestIDs[g.ID] = true
			if g.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", gp))
			}
			if g.Voice == "" {
				errs = append(errs, fmt.Errorf("%s.voice is required", gp))
			}
			if g.Instruction == "" {
				errs = append(errs, fmt.Errorf("%s.instruction is required", gp))
			}
		}
	}

	return errors.Join(errs...)
}

// FindRivalry returns the rivalry with the given ID.
func (c *Config) FindRivalry(id string) (Rivalry, bool) {
	for _, r := range c.Rivalries {
		if r.ID == id {
			return r, true
		}
	}
	return Rivalry{}, false
}
