package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	switch c.Store.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be redis or memory, got %q", c.Store.Backend))
	}

	switch c.Index.Backend {
	case "chromem":
	case "pgvector":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when INDEX_BACKEND=pgvector")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("INDEX_BACKEND must be chromem or pgvector, got %q", c.Index.Backend))
	}

	if c.Embedding.Dimensions < 1 {
		errs = append(errs, "EMBEDDING_DIMENSIONS must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, "EMBEDDING_BATCH_SIZE must be positive")
	}

	if c.LLM.MaxRetries < 1 {
		errs = append(errs, "LLM_MAX_RETRIES must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("LLM_TEMPERATURE must be 0–2, got %g", c.LLM.Temperature))
	}
	if c.LLM.InputPricePerM < 0 || c.LLM.OutputPricePerM < 0 {
		errs = append(errs, "LLM_PRICE_INPUT and LLM_PRICE_OUTPUT must not be negative")
	}

	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Sprintf("RETRIEVAL_SCORE_THRESHOLD must be 0–1, got %g", c.Retrieval.ScoreThreshold))
	}
	if c.Retrieval.Normalization != "fixed" && c.Retrieval.Normalization != "minmax" {
		errs = append(errs, fmt.Sprintf("RETRIEVAL_NORMALIZATION must be fixed or minmax, got %q", c.Retrieval.Normalization))
	}

	if c.Context.DiversityWeight < 0 || c.Context.DiversityWeight > 1 {
		errs = append(errs, fmt.Sprintf("CONTEXT_DIVERSITY_WEIGHT must be 0–1, got %g", c.Context.DiversityWeight))
	}
	if c.Context.MaxTokens < 2500 {
		errs = append(errs, "CONTEXT_MAX_TOKENS must leave room for prompt and completion reserves (>= 2500)")
	}

	if c.Conversation.MaxTurns < 1 || c.Conversation.MaxTokens < 1 {
		errs = append(errs, "CONVERSATION_MAX_TURNS and CONVERSATION_MAX_TOKENS must be positive")
	}
	if c.Conversation.TenantLimits != "" {
		var limits map[string]map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c.Conversation.TenantLimits), &limits); err != nil {
			errs = append(errs, fmt.Sprintf("CONVERSATION_TENANT_LIMITS must be a JSON object of objects: %v", err))
		}
	}

	// Provider credentials: warn only, local OpenAI-compatible servers often run without one
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty, completion requests will be sent unauthenticated")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
