package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server     ServerConfig
	Completion CompletionConfig
	Storage    StorageConfig
	Limits     LimitsConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type CompletionConfig struct {
	BaseURL   string
	APIKey    string
	FastModel string // classification and check stages
	DeepModel string // drafting and final review
}

type StorageConfig struct {
	DataDir string
}

type LimitsConfig struct {
	Burst     int
	PerMinute float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Completion: CompletionConfig{
			BaseURL:   "https://api.openai.com/v1",
			FastModel: "gpt-4o-mini",
			DeepModel: "gpt-4o",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Limits: LimitsConfig{
			Burst:     10,
			PerMinute: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/replyd/config.json, then applies REPLYD_* environment
// overrides. The completion API key is required.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Completion.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: completion API key. Set it via environment variable REPLYD_OPENAI_API_KEY or `replyd config set %s <key>`", KeyAPIKey)
	}

	return cfg, nil
}

func applyBackend(cfg *Config, b Backend) error {
	stringKeys := []struct {
		key string
		dst *string
	}{
		{KeyBaseURL, &cfg.Completion.BaseURL},
		{KeyAPIKey, &cfg.Completion.APIKey},
		{KeyFastModel, &cfg.Completion.FastModel},
		{KeyDeepModel, &cfg.Completion.DeepModel},
		{KeyDataDir, &cfg.Storage.DataDir},
		{KeyLogLevel, &cfg.Log.Level},
	}
	for _, sk := range stringKeys {
		v, ok, err := b.GetString(sk.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sk.key, err)
		}
		if ok && v != "" {
			*sk.dst = v
		}
	}

	intKeys := []struct {
		key string
		dst *int
	}{
		{KeyPort, &cfg.Server.Port},
		{KeyRateBurst, &cfg.Limits.Burst},
	}
	for _, ik := range intKeys {
		v, ok, err := b.GetInt(ik.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", ik.key, err)
		}
		if ok {
			*ik.dst = v
		}
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPLYD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REPLYD_OPENAI_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("REPLYD_OPENAI_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("REPLYD_FAST_MODEL"); v != "" {
		cfg.Completion.FastModel = v
	}
	if v := os.Getenv("REPLYD_DEEP_MODEL"); v != "" {
		cfg.Completion.DeepModel = v
	}
	if v := os.Getenv("REPLYD_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REPLYD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
