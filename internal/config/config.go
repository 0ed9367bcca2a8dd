package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Budget     BudgetConfig     `toml:"budget"`
	HumanInput HumanInputConfig `toml:"human_input"`
	Model      ModelConfig      `toml:"model"`
	Prompts    PromptsConfig    `toml:"prompts"`
	Store      StoreConfig      `toml:"store"`
	Notify     NotifyConfig     `toml:"notify"`
}

// PipelineConfig holds pipeline-level settings
type PipelineConfig struct {
	TenantID           string   `toml:"tenant_id"`
	BusinessName       string   `toml:"business_name"`
	Industry           string   `toml:"industry"`
	TargetMarket       string   `toml:"target_market"`
	Phases             []string `toml:"phases"`               // optional subset/reorder of the default plan
	MaxContextArchives int      `toml:"max_context_archives"` // archives included per LLM call (default 3)
}

// BudgetConfig holds context-window accounting settings.
// The threshold and window size are hand-tuned in practice; both are
// configuration, not behavior.
type BudgetConfig struct {
	WindowSize        int     `toml:"window_size"`        // tokens (default 200000)
	HandoverThreshold float64 `toml:"handover_threshold"` // utilization fraction (default 0.70)
}

// HumanInputConfig holds coordinator settings
type HumanInputConfig struct {
	TimeoutHours     int     `toml:"timeout_hours"`     // request expiry (default 48)
	ReminderFraction float64 `toml:"reminder_fraction"` // fraction of timeout before reminding (default 0.5)
}

// ModelConfig represents the LLM endpoint configuration
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	ContextSize        int     `toml:"context_size"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"`
	CallTimeoutSeconds int     `toml:"call_timeout_seconds"` // per-phase completion deadline
}

// PromptsConfig holds prompt catalog settings
type PromptsConfig struct {
	CatalogPath string `toml:"catalog_path"` // YAML phase->template file; empty = embedded defaults
	Compress    bool   `toml:"compress"`     // lossy textual compression pass
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	Path string `toml:"path"` // SQLite database path; ":memory:" = in-memory store
}

// NotifyConfig holds notification sink settings
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"` // optional; failures never abort the pipeline
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

// CallTimeout returns the bounded deadline for a single LLM completion.
func (m ModelConfig) CallTimeout() time.Duration {
	return time.Duration(m.CallTimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Pipeline.TenantID == "" {
		return fmt.Errorf("pipeline.tenant_id is required")
	}
	if c.Pipeline.BusinessName == "" {
		return fmt.Errorf("pipeline.business_name is required")
	}
	if c.Pipeline.MaxContextArchives < 1 {
		return fmt.Errorf("pipeline.max_context_archives must be at least 1 (got %d)", c.Pipeline.MaxContextArchives)
	}

	if c.Budget.WindowSize < 1000 {
		return fmt.Errorf("budget.window_size must be at least 1000 tokens (got %d)", c.Budget.WindowSize)
	}
	if c.Budget.HandoverThreshold <= 0 || c.Budget.HandoverThreshold > 1.0 {
		return fmt.Errorf("budget.handover_threshold must be in (0, 1.0] (got %.2f)", c.Budget.HandoverThreshold)
	}

	if c.HumanInput.TimeoutHours < 1 {
		return fmt.Errorf("human_input.timeout_hours must be at least 1 (got %d)", c.HumanInput.TimeoutHours)
	}
	if c.HumanInput.ReminderFraction <= 0 || c.HumanInput.ReminderFraction >= 1.0 {
		return fmt.Errorf("human_input.reminder_fraction must be in (0, 1.0) (got %.2f)", c.HumanInput.ReminderFraction)
	}

	if err := validateModelConfig(c.Model); err != nil {
		return err
	}
	return nil
}

func validateModelConfig(mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if mc.ModelName == "" {
		return fmt.Errorf("model.model_name is required")
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("model.top_p must be between 0 and 1")
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("model.max_output_tokens must be at least 1")
	}
	if mc.ContextSize < 1 {
		return fmt.Errorf("model.context_size must be at least 1")
	}
	if mc.MaxOutputTokens > mc.ContextSize {
		return fmt.Errorf("model.max_output_tokens (%d) must not exceed context_size (%d)", mc.MaxOutputTokens, mc.ContextSize)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("model.rate_limit_per_minute must be at least 1")
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() *Secrets {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		secrets.APIKeys["anthropic"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "anthropic.com") {
		if key := s.APIKeys["anthropic"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}

	// Fall back to generic API_KEY for any OpenAI-compatible provider.
	// Empty is acceptable for local servers without auth.
	return s.APIKeys["generic"]
}
