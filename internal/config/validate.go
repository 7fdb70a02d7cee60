package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.ResolveDSN()) == "" {
			return errors.New("storage.dsn (or storage.dsn_env) must be set for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite, postgres, or memory, got %q", cfg.Storage.Driver)
	}

	switch cfg.Extractor.Type {
	case "onnx":
		if strings.TrimSpace(cfg.Extractor.ModelsDir) == "" {
			return errors.New("extractor.models_dir must be set for the onnx extractor")
		}
	case "fake":
	default:
		return fmt.Errorf("extractor.type must be onnx or fake, got %q", cfg.Extractor.Type)
	}

	if cfg.Recognition.MatchThreshold <= 0 || cfg.Recognition.MatchThreshold >= 1 {
		return fmt.Errorf("recognition.match_threshold must be in (0, 1), got %v", cfg.Recognition.MatchThreshold)
	}

	if len(cfg.Clients) == 0 {
		return errors.New("at least one client must be configured")
	}
	for _, c := range cfg.Clients {
		if strings.TrimSpace(c.ID) == "" {
			return errors.New("client id must be set")
		}
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("client %q must define at least one api_keys entry", c.ID)
		}
	}

	if err := validateAlertsConfig(cfg.Alerts); err != nil {
		return err
	}

	return validateTelemetryConfig(cfg.Telemetry)
}

func validateAlertsConfig(a AlertsConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("alert sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("alert sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("alert sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("alert sink %d (webhook) url must be http or https", i)
			}
		case "stdout":
		default:
			return fmt.Errorf("alert sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
