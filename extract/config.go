package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable thresholds of the extraction engine.
// The zero value is not usable; call DefaultConfig or Load.
type Config struct {
	// GapThresholdPx is the minimum horizontal gap between X-histogram peaks
	// for column detection. Zero means adaptive: max(20, 0.03 * page width).
	GapThresholdPx float64 `yaml:"gap_threshold_px" json:"gap_threshold_px"`

	// YTolerancePx is the row grouping tolerance. Zero means adaptive:
	// max(20, 0.01 * page height).
	YTolerancePx float64 `yaml:"y_tolerance_px" json:"y_tolerance_px"`

	// BBoxMatchThreshold is the token-overlap ratio cutoff for re-aligning
	// LLM output onto OCR bounding boxes.
	BBoxMatchThreshold float64 `yaml:"bbox_match_threshold" json:"bbox_match_threshold"`

	// LLMTimeoutSeconds bounds a single LLM generation call. Cold-start model
	// loads can exceed 30s, so values below 60 cause false failures.
	LLMTimeoutSeconds int `yaml:"llm_timeout_seconds" json:"llm_timeout_seconds"`

	// LLMMaxRetries is the number of attempts for transient LLM failures.
	LLMMaxRetries int `yaml:"llm_max_retries" json:"llm_max_retries"`

	// ValidationErrorThreshold is the relative error on subtotal/grand total
	// above which a document is forced into manual review.
	ValidationErrorThreshold float64 `yaml:"validation_error_threshold" json:"validation_error_threshold"`

	// EnableLLMFallback switches the LLM reconstruction path on.
	EnableLLMFallback bool `yaml:"enable_llm_fallback" json:"enable_llm_fallback"`

	// OllamaURL is the base URL of the local model server.
	OllamaURL string `yaml:"ollama_url" json:"ollama_url"`

	// Model is the model name used for LLM reconstruction.
	Model string `yaml:"model" json:"model"`
}

// DefaultConfig returns the engine defaults. The numeric thresholds were
// tuned against a sample of real scanned invoices and are starting points,
// not exact contracts.
func DefaultConfig() Config {
	return Config{
		GapThresholdPx:           0, // adaptive
		YTolerancePx:             0, // adaptive
		BBoxMatchThreshold:       0.7,
		LLMTimeoutSeconds:        90,
		LLMMaxRetries:            3,
		ValidationErrorThreshold: 0.10,
		EnableLLMFallback:        false,
		OllamaURL:                "http://localhost:11434",
		Model:                    "qwen2.5-coder:7b",
	}
}

// LoadConfig reads a YAML config file, applying defaults for unset fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BBoxMatchThreshold <= 0 || c.BBoxMatchThreshold > 1 {
		c.BBoxMatchThreshold = def.BBoxMatchThreshold
	}
	if c.LLMTimeoutSeconds <= 0 {
		c.LLMTimeoutSeconds = def.LLMTimeoutSeconds
	}
	if c.LLMMaxRetries <= 0 {
		c.LLMMaxRetries = def.LLMMaxRetries
	}
	if c.ValidationErrorThreshold <= 0 {
		c.ValidationErrorThreshold = def.ValidationErrorThreshold
	}
	if c.OllamaURL == "" {
		c.OllamaURL = def.OllamaURL
	}
	if c.Model == "" {
		c.Model = def.Model
	}
}

// gapThreshold resolves the column gap threshold for a page width.
func (c Config) gapThreshold(pageWidth float64) float64 {
	if c.GapThresholdPx > 0 {
		return c.GapThresholdPx
	}
	if t := 0.03 * pageWidth; t > 20 {
		return t
	}
	return 20
}

// yTolerance resolves the row grouping tolerance for a page height.
func (c Config) yTolerance(pageHeight float64) float64 {
	if c.YTolerancePx > 0 {
		return c.YTolerancePx
	}
	if t := 0.01 * pageHeight; t > 20 {
		return t
	}
	return 20
}
