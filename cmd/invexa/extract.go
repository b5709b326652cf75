package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/invexa/invexa-go/extract"
	"github.com/invexa/invexa-go/llm"
	"github.com/invexa/invexa-go/logging"
	"github.com/invexa/invexa-go/metrics"
)

var (
	configPath   string
	outputPath   string
	patternsPath string
	metricsPort  int
	logStyle     string
	logLevel     string
)

var extractCmd = &cobra.Command{
	Use:   "extract [ocr-dump.json...]",
	Short: "Extract line items from OCR page dumps",
	Long: `Extract line items from one or more OCR page dumps.

Each input file holds a JSON array of pages, each with OCR word blocks and
the page dimensions in pixels:

  [{"page": 1, "width": 2480, "height": 3508,
    "blocks": [{"text": "...", "bbox": [x, y, w, h], "confidence": 0.97, "page": 1}]}]

Examples:
  # Extract with defaults, results to stdout
  invexa extract scan.json

  # Extract with a config file and the LLM fallback enabled
  INVEXA_ENABLE_LLM_FALLBACK=true invexa extract --config invexa.yaml scan.json

  # Write results and serve metrics while processing
  invexa extract --output results.json --metrics-port 9090 scan.json
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	extractCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default stdout)")
	extractCmd.Flags().StringVarP(&patternsPath, "patterns", "p", "", "Supplier patterns file to load and update")
	extractCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve /metrics and health probes on this port")
	extractCmd.Flags().StringVar(&logStyle, "log-style", "terminal", "Log style: terminal, json, noop")
	extractCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// loadEngineConfig merges, in priority order: defaults, config file,
// INVEXA_* environment variables.
func loadEngineConfig() (extract.Config, error) {
	v := viper.New()
	def := extract.DefaultConfig()
	v.SetDefault("gap_threshold_px", def.GapThresholdPx)
	v.SetDefault("y_tolerance_px", def.YTolerancePx)
	v.SetDefault("bbox_match_threshold", def.BBoxMatchThreshold)
	v.SetDefault("llm_timeout_seconds", def.LLMTimeoutSeconds)
	v.SetDefault("llm_max_retries", def.LLMMaxRetries)
	v.SetDefault("validation_error_threshold", def.ValidationErrorThreshold)
	v.SetDefault("enable_llm_fallback", def.EnableLLMFallback)
	v.SetDefault("ollama_url", def.OllamaURL)
	v.SetDefault("model", def.Model)

	v.SetEnvPrefix("INVEXA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return def, fmt.Errorf("reading config: %w", err)
		}
	}

	return extract.Config{
		GapThresholdPx:           v.GetFloat64("gap_threshold_px"),
		YTolerancePx:             v.GetFloat64("y_tolerance_px"),
		BBoxMatchThreshold:       v.GetFloat64("bbox_match_threshold"),
		LLMTimeoutSeconds:        v.GetInt("llm_timeout_seconds"),
		LLMMaxRetries:            v.GetInt("llm_max_retries"),
		ValidationErrorThreshold: v.GetFloat64("validation_error_threshold"),
		EnableLLMFallback:        v.GetBool("enable_llm_fallback"),
		OllamaURL:                v.GetString("ollama_url"),
		Model:                    v.GetString("model"),
	}, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := logging.NewLogger(&logging.Config{
		Style: logging.Style(logStyle),
		Level: logLevel,
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}

	if metricsPort > 0 {
		metrics.Start(logger, metricsPort, func() bool { return true })
	}

	patterns := extract.NewSupplierPatterns()
	if patternsPath != "" {
		if data, err := os.ReadFile(patternsPath); err == nil {
			if err := patterns.Import(data); err != nil {
				return fmt.Errorf("loading supplier patterns: %w", err)
			}
		}
	}

	opts := []extract.EngineOption{extract.WithSupplierPatterns(patterns)}
	if cfg.EnableLLMFallback {
		recon, err := llm.NewReconstructor(llm.ReconstructorConfig{
			Client: llm.ClientConfig{
				ServerURL:  cfg.OllamaURL,
				Model:      cfg.Model,
				Timeout:    time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
				MaxRetries: cfg.LLMMaxRetries,
			},
			BBoxMatchThreshold:  cfg.BBoxMatchThreshold,
			ValidationThreshold: cfg.ValidationErrorThreshold,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating llm reconstructor: %w", err)
		}
		opts = append(opts, extract.WithLLM(recon))
	}
	engine := extract.NewEngine(cfg, logger, opts...)

	var results []*extract.Result
	for _, path := range args {
		pages, err := loadPages(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		for _, page := range pages {
			res, err := engine.Extract(ctx, page)
			if err != nil {
				logger.Warn("extraction needs review",
					zap.String("file", path),
					zap.Int("page", page.Page),
					zap.Error(err))
			}
			results = append(results, res)
		}
	}

	if patternsPath != "" {
		if data, err := patterns.Export(); err == nil {
			if err := os.WriteFile(patternsPath, data, 0o644); err != nil {
				logger.Warn("saving supplier patterns", zap.Error(err))
			}
		}
	}

	return writeResults(results)
}

func loadPages(path string) ([]extract.PageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []extract.PageInput
	if err := json.Unmarshal(data, &pages); err != nil {
		// A single page object is accepted too.
		var one extract.PageInput
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, err
		}
		pages = []extract.PageInput{one}
	}
	return pages, nil
}

func writeResults(results []*extract.Result) error {
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if outputPath == "" {
		fmt.Println(string(out))
		return nil
	}
	return os.WriteFile(outputPath, append(out, '\n'), 0o644)
}
