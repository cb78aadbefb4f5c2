package config

// Known config keys as they appear in the JSON backend and in
// `replyd config set <key> <value>`.
const (
	KeyPort      = "server.port"
	KeyBaseURL   = "completion.base_url"
	KeyAPIKey    = "completion.api_key"
	KeyFastModel = "completion.fast_model"
	KeyDeepModel = "completion.deep_model"
	KeyDataDir   = "storage.data_dir"
	KeyRateBurst = "limits.burst"
	KeyLogLevel  = "log.level"
	keyAPIToken  = "server.api_token"
)

// KnownKeys lists every key the CLI may set.
func KnownKeys() []string {
	return []string{
		KeyPort, KeyBaseURL, KeyAPIKey, KeyFastModel, KeyDeepModel,
		KeyDataDir, KeyRateBurst, KeyLogLevel,
	}
}

// IsKnownKey reports whether key may be set through the CLI.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys() {
		if k == key {
			return true
		}
	}
	return false
}
