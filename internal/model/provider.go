package model

import "time"

// ProviderConfig describes one inference backend the failover executor can
// dispatch to. Rows are managed by the admin surface and loaded into the
// executor registry on refresh.
type ProviderConfig struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // "cloud", "ollama", "openai_compat"
	BaseURL  string   `json:"base_url,omitempty"`
	APIKey   string   `json:"-"`
	Models   []string `json:"models,omitempty"`
	Priority int      `json:"priority"` // higher = tried first

	TimeoutSecs int `json:"timeout_secs"`

	// MaxRetries and RetryDelaySecs are persisted for the admin surface but
	// the failover loop performs exactly one attempt per provider before
	// moving on.
	MaxRetries     int `json:"max_retries"`
	RetryDelaySecs int `json:"retry_delay_secs"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timeout returns the configured per-request timeout, defaulting to 60s.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// DefaultModel returns the first supported model, or "" if none configured.
func (p ProviderConfig) DefaultModel() string {
	if len(p.Models) == 0 {
		return ""
	}
	return p.Models[0]
}
