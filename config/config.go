// Package config loads the small set of tunables the agent communication
// substrate recognizes (SPEC_FULL.md §6): rate limits, turn caps,
// similarity thresholds, and collaboration timeouts. No external config
// library is pulled in — see DESIGN.md for why viper-style loading was
// left out rather than adopted from an unrelated example repo.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds every tunable recognized by the core.
type Config struct {
	MaxTokensPerMinute                int     `json:"max_tokens_per_minute"`
	MaxTokensPerHour                  int     `json:"max_tokens_per_hour"`
	MaxTurns                          int     `json:"max_turns"`
	SimilarityThreshold               float64 `json:"similarity_threshold"`
	CollaborationMaxChainLength       int     `json:"collaboration_max_chain_length"`
	CollaborationDefaultTimeoutSeconds int    `json:"collaboration_default_timeout_seconds"`
	LateResponseGraceSeconds         int     `json:"late_response_grace_seconds"`
	QueuePollIntervalMS              int     `json:"queue_poll_interval_ms"`
}

// Default returns the configuration defaults named in SPEC_FULL.md §6.
func Default() *Config {
	return &Config{
		MaxTokensPerMinute:                 5500,
		MaxTokensPerHour:                   100000,
		MaxTurns:                           20,
		SimilarityThreshold:                0.2,
		CollaborationMaxChainLength:        5,
		CollaborationDefaultTimeoutSeconds: 60,
		LateResponseGraceSeconds:           60,
		QueuePollIntervalMS:                10,
	}
}

// Load reads Default(), then overlays a JSON file at path (if non-empty and
// present) and then environment variables, in that order of increasing
// precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	intVar(&cfg.MaxTokensPerMinute, "AGENT_MAX_TOKENS_PER_MINUTE")
	intVar(&cfg.MaxTokensPerHour, "AGENT_MAX_TOKENS_PER_HOUR")
	intVar(&cfg.MaxTurns, "AGENT_MAX_TURNS")
	floatVar(&cfg.SimilarityThreshold, "AGENT_SIMILARITY_THRESHOLD")
	intVar(&cfg.CollaborationMaxChainLength, "AGENT_COLLABORATION_MAX_CHAIN_LENGTH")
	intVar(&cfg.CollaborationDefaultTimeoutSeconds, "AGENT_COLLABORATION_DEFAULT_TIMEOUT_SECONDS")
	intVar(&cfg.LateResponseGraceSeconds, "AGENT_LATE_RESPONSE_GRACE_SECONDS")
	intVar(&cfg.QueuePollIntervalMS, "AGENT_QUEUE_POLL_INTERVAL_MS")
}

func intVar(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func floatVar(dst *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
