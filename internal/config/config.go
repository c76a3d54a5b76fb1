package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/riskscore-api/internal/risk"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Log    LogConfig    `yaml:"log"`
	Risk   RiskConfig   `yaml:"risk"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`         // HTTP listen address
	GRPCAddr        string        `yaml:"grpc_addr"`    // empty disables gRPC
	MetricsAddr     string        `yaml:"metrics_addr"` // empty serves /metrics on Addr
	CORSOrigin      string        `yaml:"cors_origin"`  // empty disables CORS headers
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
	LibraryPath  string `yaml:"library_path"` // onnxruntime shared library
	Sessions     int    `yaml:"sessions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type RiskConfig struct {
	Bands []risk.Band `yaml:"bands"`
}

// SearchPaths are tried in order when Load is given no path.
var SearchPaths = []string{"configs/riskscore.yaml", "riskscore.yaml"}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			CORSOrigin:      "*",
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Model: ModelConfig{
			Path:     "models/demo_logistic.json",
			Sessions: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath, or the first of SearchPaths that exists when configPath is empty,
// then applies environment overrides. A missing file under SearchPaths is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range SearchPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.Model.Path = getEnv("RISKSCORE_MODEL_PATH", cfg.Model.Path)
	cfg.Model.MetadataPath = getEnv("RISKSCORE_METADATA_PATH", cfg.Model.MetadataPath)
	cfg.Model.LibraryPath = getEnv("ONNXRUNTIME_LIB", cfg.Model.LibraryPath)
	cfg.Log.Level = getEnv("RISKSCORE_LOG_LEVEL", cfg.Log.Level)
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if cfg.Model.Sessions == 0 {
		cfg.Model.Sessions = d.Model.Sessions
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must not be negative"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.Sessions < 0 {
		errs = append(errs, errors.New("model.sessions must not be negative"))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
