package main

import (
	"github.com/requora/reqcore/internal/model"
)

// scoreRequest is the payload of POST /api/score and the score command.
type scoreRequest struct {
	Candidates []model.RequirementCandidate `json:"candidates"`
	Industry   string                       `json:"industry,omitempty"`
	Function   string                       `json:"function,omitempty"`
}

// providerRequest is the payload of POST /api/providers.
type providerRequest struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	BaseURL        string   `json:"base_url,omitempty"`
	APIKey         string   `json:"api_key,omitempty"`
	Models         []string `json:"models,omitempty"`
	Priority       int      `json:"priority"`
	TimeoutSecs    int      `json:"timeout_secs,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
	RetryDelaySecs int      `json:"retry_delay_secs,omitempty"`
	Active         *bool    `json:"active,omitempty"`
}

func (r providerRequest) toConfig() model.ProviderConfig {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return model.ProviderConfig{
		ID:             r.ID,
		Name:           r.Name,
		Kind:           r.Kind,
		BaseURL:        r.BaseURL,
		APIKey:         r.APIKey,
		Models:         r.Models,
		Priority:       r.Priority,
		TimeoutSecs:    r.TimeoutSecs,
		MaxRetries:     r.MaxRetries,
		RetryDelaySecs: r.RetryDelaySecs,
		Active:         active,
	}
}
