package config

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Set writes a known config key to the persistent backend.
func Set(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	b := newFileBackend()
	switch key {
	case KeyPort, KeyRateBurst:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s requires an integer value: %w", key, err)
		}
		return b.SetInt(key, i)
	default:
		return b.SetString(key, value)
	}
}

// KeyValue is one config entry for display.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll renders the effective configuration for display, secrets redacted.
func ShowAll(cfg Config) []KeyValue {
	apiKey := "(not set)"
	if cfg.Completion.APIKey != "" {
		apiKey = "(set, redacted)"
	}
	return []KeyValue{
		{KeyPort, strconv.Itoa(cfg.Server.Port)},
		{KeyBaseURL, cfg.Completion.BaseURL},
		{KeyAPIKey, apiKey},
		{KeyFastModel, cfg.Completion.FastModel},
		{KeyDeepModel, cfg.Completion.DeepModel},
		{KeyDataDir, cfg.Storage.DataDir},
		{KeyRateBurst, strconv.Itoa(cfg.Limits.Burst)},
		{KeyLogLevel, cfg.Log.Level},
	}
}

// GetAPIToken returns the bearer token protecting the management API,
// generating and persisting one on first use.
func GetAPIToken() (string, error) {
	return getAPIToken(newFileBackend())
}

func getAPIToken(b Backend) (string, error) {
	token, ok, err := b.GetString(keyAPIToken)
	if err != nil {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	if ok && token != "" {
		return token, nil
	}

	token = uuid.New().String()
	if err := b.SetString(keyAPIToken, token); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}
