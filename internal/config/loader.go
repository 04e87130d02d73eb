package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; falling back to the in-memory store, data will not survive restarts")
	}

	if cfg.Matching.SuggestionLimit < 0 {
		errs = append(errs, fmt.Errorf("matching.suggestion_limit %d must not be negative", cfg.Matching.SuggestionLimit))
	}

	lw, pw := cfg.Matching.LexicalWeight, cfg.Matching.PhoneticWeight
	switch {
	case lw == 0 && pw == 0:
		// Built-in defaults apply.
	case lw < 0 || pw < 0:
		errs = append(errs, fmt.Errorf("matching weights must not be negative, got lexical=%.2f phonetic=%.2f", lw, pw))
	case math.Abs(lw+pw-1) > 1e-9:
		errs = append(errs, fmt.Errorf("matching.lexical_weight and matching.phonetic_weight must sum to 1, got %.2f", lw+pw))
	}

	if cfg.Transform.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("transform.request_timeout %v must not be negative", cfg.Transform.RequestTimeout.Std()))
	}

	return errors.Join(errs...)
}
