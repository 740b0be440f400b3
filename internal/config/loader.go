package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

	// Server
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

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", cfg.Backend.BaseURL))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("backend.base_url scheme %q is invalid; valid values: http, https, ws, wss", u.Scheme))
		}
	}
	if cfg.Backend.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.request_timeout %s must not be negative", cfg.Backend.RequestTimeout))
	}

	// Session
	if cfg.Session.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must not be negative", cfg.Session.SampleRate))
	}
	if cfg.Session.VADThreshold < 0 || cfg.Session.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.vad_threshold %.4f is out of range [0, 1]", cfg.Session.VADThreshold))
	}
	if cfg.Session.CommitDelay < 0 {
		errs = append(errs, fmt.Errorf("session.commit_delay %s must not be negative", cfg.Session.CommitDelay))
	}
	if cfg.Session.SilenceCommitDelay < 0 {
		errs = append(errs, fmt.Errorf("session.silence_commit_delay %s must not be negative", cfg.Session.SilenceCommitDelay))
	}
	if cfg.Session.CommitDelay > 0 && cfg.Session.SilenceCommitDelay > cfg.Session.CommitDelay {
		errs = append(errs, fmt.Errorf("session.silence_commit_delay %s must not exceed session.commit_delay %s",
			cfg.Session.SilenceCommitDelay, cfg.Session.CommitDelay))
	}
	if cfg.Session.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("session.heartbeat_interval %s must not be negative", cfg.Session.HeartbeatInterval))
	}

	// Call log
	if cfg.CallLog.PostgresDSN == "" {
		slog.Warn("call_log.postgres_dsn is empty; finished calls will not be archived")
	}

	return errors.Join(errs...)
}
