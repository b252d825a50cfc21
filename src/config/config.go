package config

import (
	"fmt"
	"log/slog"
	"os"

	"path/filepath"
	"strings"

	cenv "github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kraw "github.com/knadh/koanf/providers/rawbytes"
	kfn "github.com/knadh/koanf/v2"
)

// LoadEnv parses and validates the environment bootstrap configuration.
func LoadEnv() (*EnvConfig, error) {
	envCfg := EnvConfig{}
	if err := cenv.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	validate := validator.New()
	if err := validate.Struct(&envCfg); err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
	}
	return &envCfg, nil
}

// LoadConfig loads the file-backed configuration selected by the
// environment, then applies the environment overrides that take precedence
// over the file (MQTT_PORT, DATABASE_URL).
func LoadConfig(envCfg *EnvConfig) (*Config, error) {
	var cfg *Config
	var err error

	if envCfg.ConfigContent != "" {
		slog.Info("loading configuration from content", "format", envCfg.ConfigFormat)
		cfg, err = loadConfigContent(envCfg.ConfigContent, envCfg.ConfigFormat)
	} else {
		slog.Info("loading configuration file", "path", envCfg.ConfigFilePath)
		cfg, err = loadConfigFile(envCfg.ConfigFilePath)
	}
	if err != nil {
		return nil, err
	}

	if envCfg.MQTTPort != 0 {
		cfg.MQTT.Port = envCfg.MQTTPort
	}
	if envCfg.DatabaseURL != "" {
		cfg.Database.URL = envCfg.DatabaseURL
	}

	applyDefaults(cfg)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.MaxPayloadSize == 0 {
		cfg.MQTT.MaxPayloadSize = 64 * 1024
	}
	if cfg.Batcher.MaxBufferSize == 0 {
		cfg.Batcher.MaxBufferSize = 100
	}
	if cfg.Batcher.FlushIntervalMs == 0 {
		cfg.Batcher.FlushIntervalMs = 2000
	}
	if cfg.Batcher.MaxRetries == 0 {
		cfg.Batcher.MaxRetries = 3
	}
	if cfg.Bootstrap.RateLimit == 0 {
		cfg.Bootstrap.RateLimit = 5
	}
}

// loadConfigFile loads configuration from a file (YAML or JSON) and merges
// environment overrides.
// Environment variables use the prefix "TB_" and map to keys by:
// - trimming the prefix
// - lowercasing
// - replacing "__" with "." (double underscore denotes nesting)
func loadConfigFile(path string) (cfg *Config, err error) {
	absPath, e := filepath.Abs(path)
	if e != nil {
		return nil, e
	}

	if _, e = os.Stat(absPath); e != nil {
		return nil, fmt.Errorf("error opening config file: %w", e)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	var parser kfn.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		return nil, &UnsupportedExtensionError{Extension: ext}
	}

	k := kfn.New(".")
	if e = k.Load(kfile.Provider(absPath), parser); e != nil {
		return nil, fmt.Errorf("error loading config file: %w", e)
	}

	loadEnvOverrides(k)

	cfg = &Config{}
	if e = k.UnmarshalWithConf("", cfg, kfn.UnmarshalConf{Tag: "yaml"}); e != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", e)
	}
	return cfg, nil
}

// loadConfigContent loads configuration from raw YAML/JSON content and
// merges environment overrides. If format is empty, attempts to auto-detect
// (JSON if trimmed content starts with '{').
func loadConfigContent(content string, format string) (cfg *Config, err error) {
	trimmed := strings.TrimSpace(content)
	f := strings.ToLower(strings.TrimSpace(format))
	var parser kfn.Parser
	switch f {
	case "yaml", "yml":
		parser = kyaml.Parser()
	case "json":
		parser = kjson.Parser()
	case "":
		if strings.HasPrefix(trimmed, "{") {
			parser = kjson.Parser()
		} else {
			parser = kyaml.Parser()
		}
	default:
		return nil, &UnsupportedExtensionError{Extension: f}
	}

	k := kfn.New(".")
	if err = k.Load(kraw.Provider([]byte(content)), parser); err != nil {
		return nil, fmt.Errorf("error loading config content: %w", err)
	}

	loadEnvOverrides(k)

	cfg = &Config{}
	if err = k.UnmarshalWithConf("", cfg, kfn.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return cfg, nil
}

func loadEnvOverrides(k *kfn.Koanf) {
	// Allow overriding config via environment variables with prefix TB_.
	// Example: TB_MQTT__PORT=2883
	const prefix = "TB_"
	_ = k.Load(kenv.Provider(prefix, ".", func(s string) string {
		// Transform: TB_FOO__BAR -> foo.bar
		noPrefix := strings.TrimPrefix(s, prefix)
		noPrefix = strings.ToLower(noPrefix)
		noPrefix = strings.ReplaceAll(noPrefix, "__", ".")
		return noPrefix
	}), nil)
}

type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	return "unsupported config file extension: " + e.Extension
}
