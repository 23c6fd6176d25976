// Package config loads the TOML application configuration (§6).
package config

import "time"

// Config is the full application configuration. Unknown TOML fields are
// ignored by go-toml/v2's decoder by default (§6: "Unknown fields are
// ignored").
type Config struct {
	Providers map[string]ProviderConfig `toml:"providers"`
	Routing   RoutingConfig             `toml:"routing"`
	Budget    BudgetConfig              `toml:"budget"`
	Session   SessionConfig             `toml:"session"`
	Log       LogConfig                 `toml:"log"`
	Credentials CredentialConfig        `toml:"credentials"`
}

// ProviderConfig is one `[providers.<id>]` table (§6). APIKeyRef is a
// reference into the credential store, not an inline secret, when a
// keyring backend is available.
type ProviderConfig struct {
	Enabled      bool    `toml:"enabled"`
	APIKeyRef    string  `toml:"api_key_ref"`
	Host         string  `toml:"host"`
	Model        string  `toml:"model"`
	FallbackModel string `toml:"fallback_model"`
	MaxTokens    int     `toml:"max_tokens"`
	Priority     int     `toml:"priority"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	// OAuth/device-code family (§4.6), used only by the *-oauth and
	// copilot provider ids. ClientID/AuthURL/TokenURL/DeviceURL name the
	// vendor's authorization endpoints; RedirectURL/Scopes complete the
	// PKCE config. Credentials themselves live in the credential store,
	// never in this config.
	ClientID    string   `toml:"client_id"`
	AuthURL     string   `toml:"auth_url"`
	TokenURL    string   `toml:"token_url"`
	DeviceURL   string   `toml:"device_url"`
	RedirectURL string   `toml:"redirect_url"`
	Scopes      []string `toml:"scopes"`
}

// RoutingConfig selects the dispatch strategy and fallback/timeout
// behavior (§4.2).
type RoutingConfig struct {
	Strategy            string        `toml:"strategy"`
	PreferredProvider    string       `toml:"preferred_provider"`
	EnableFallback      bool          `toml:"enable_fallback"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	StreamChunkTimeout  time.Duration `toml:"stream_chunk_timeout"`
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
}

// BudgetConfig mirrors cost.BudgetConfig for TOML decoding.
type BudgetConfig struct {
	DailyBudgetUSD   float64 `toml:"daily_budget_usd"`
	MonthlyBudgetUSD float64 `toml:"monthly_budget_usd"`
}

// SessionConfig mirrors session.Config for TOML decoding.
type SessionConfig struct {
	MaxMessages int           `toml:"max_messages"`
	MaxTokens   int           `toml:"max_tokens"`
	TTL         time.Duration `toml:"ttl"`
}

// LogConfig controls zap's output (ambient stack, not named by §6 but
// carried regardless per the non-goals rule on ambient concerns).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// CredentialConfig selects the credential backend (§6 Credentials at rest).
type CredentialConfig struct {
	Backend  string `toml:"backend"` // "auto", "keyring", "file", "memory"
	FilePath string `toml:"file_path"`
}

// Default returns the zero-provider baseline configuration used when no
// file is present (§6: "Missing file ⇒ defaults").
func Default() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{},
		Routing: RoutingConfig{
			Strategy:            "priority",
			EnableFallback:      true,
			RequestTimeout:      300 * time.Second,
			StreamChunkTimeout:  30 * time.Second,
			HealthCheckInterval: 60 * time.Second,
		},
		Session: SessionConfig{
			MaxMessages: 200,
			MaxTokens:   8000,
			TTL:         24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Credentials: CredentialConfig{
			Backend: "auto",
		},
	}
}
