package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds Invigil configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Evidence    EvidenceConfig    `yaml:"evidence"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Clients     []ClientConfig    `yaml:"clients"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`                   // HTTP listen address, e.g. ":8080"
	MaxRequestBodyBytes int64  `yaml:"max_request_body_bytes"` // cap on uploaded frame size
}

type StorageConfig struct {
	Driver string `yaml:"driver"`  // sqlite | postgres | memory
	DSN    string `yaml:"dsn"`     // file path for sqlite, connection string for postgres
	DSNEnv string `yaml:"dsn_env"` // env var holding the DSN; wins over dsn when set
}

// ResolveDSN returns the effective DSN, honoring the env override.
func (s StorageConfig) ResolveDSN() string {
	if s.DSNEnv != "" {
		if v := os.Getenv(s.DSNEnv); v != "" {
			return v
		}
	}
	return s.DSN
}

type EnrollmentConfig struct {
	Dir string `yaml:"dir"` // enrolled-image directory; identity = file name
}

type ExtractorConfig struct {
	Type          string `yaml:"type"`            // onnx | fake
	ModelsDir     string `yaml:"models_dir"`      // face_detector.onnx etc.
	SharedLibPath string `yaml:"shared_lib_path"` // onnxruntime shared library override
}

type RecognitionConfig struct {
	// MatchThreshold is the single tunable recognition gate: a probe
	// matches only when its best gallery distance is strictly below it.
	MatchThreshold float64 `yaml:"match_threshold"`
	// ObjectAreaFloor is the minimum pixel area for a rectangular region
	// to count toward the suspicious-object trigger.
	ObjectAreaFloor int `yaml:"object_area_floor"`
}

type EvidenceConfig struct {
	Dir string `yaml:"dir"` // violation evidence images land here
}

type AlertsConfig struct {
	Sinks     []AlertSinkConfig `yaml:"sinks"`
	QueueSize int               `yaml:"queue_size"`
	Workers   int               `yaml:"workers"`
}

type AlertSinkConfig struct {
	Type           string            `yaml:"type"` // file_jsonl | webhook | stdout
	Path           string            `yaml:"path"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
}

type ClientConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = 8 << 20 // still-image frames
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "invigil.db"
	}

	if cfg.Extractor.Type == "" {
		cfg.Extractor.Type = "onnx"
	}

	if cfg.Recognition.MatchThreshold <= 0 {
		cfg.Recognition.MatchThreshold = 0.6
	}
	if cfg.Recognition.ObjectAreaFloor <= 0 {
		cfg.Recognition.ObjectAreaFloor = 4000
	}

	if cfg.Evidence.Dir == "" {
		cfg.Evidence.Dir = "evidence"
	}

	if cfg.Alerts.QueueSize <= 0 {
		cfg.Alerts.QueueSize = 1000
	}
	if cfg.Alerts.Workers <= 0 {
		cfg.Alerts.Workers = 1
	}

	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "invigil"
	}
}
