// Package config holds the explicit EngineConfig value threaded through
// construction of every other component, avoiding process-wide mutable
// configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Method is a lot-disposal policy, mirrored from ledger.Policy at the config
// boundary so this package does not need to import ledger.
type Method string

const (
	FIFO Method = "fifo"
	LIFO Method = "lifo"
	HIFO Method = "hifo"
)

// EngineConfig is the single configuration value threaded through the
// mapping registry, classifier, normalizer, validator, tax engine, and
// report writer. No component reads global/package-level mutable state.
type EngineConfig struct {
	// Method selects the disposal policy.
	Method Method
	// TaxCurrency is the currency amounts are priced in when quote_amount
	// must be imputed from the price oracle.
	TaxCurrency string
	// StrictMode turns validation failures and insufficient-inventory
	// conditions from warnings into fatal errors.
	StrictMode bool
	// FetchMissingPrices enables the normalizer's oracle-backed
	// quote_amount imputation.
	FetchMissingPrices bool
	// RemoveDuplicates enables the normalizer's duplicate-dropping pass.
	RemoveDuplicates bool
	// DetectorConfidenceThreshold (default 0.9) is the confidence below
	// which a detection result is flagged needs_confirmation.
	DetectorConfidenceThreshold float64
	// ClassifierThreshold is the column classifier's minimum confidence
	// to accept a prediction (default 0.8).
	ClassifierThreshold float64
	// MappingPath is the path to the exchange mapping declaration
	// document loaded by the registry.
	MappingPath string
	// OutputDir is the root directory reports and per-file normalized
	// CSVs are written under.
	OutputDir string
}

// Default returns the spec's documented defaults: FIFO, USD, non-strict,
// confidence_threshold=0.9, classifier tau=0.8.
func Default() EngineConfig {
	return EngineConfig{
		Method:                      FIFO,
		TaxCurrency:                 "USD",
		StrictMode:                  false,
		FetchMissingPrices:          false,
		RemoveDuplicates:            false,
		DetectorConfidenceThreshold: 0.9,
		ClassifierThreshold:         0.8,
		MappingPath:                 "exchanges.yaml",
		OutputDir:                   "output",
	}
}

// Validate checks field invariants that would otherwise surface as
// confusing failures deep in the pipeline.
func (c EngineConfig) Validate() error {
	switch c.Method {
	case FIFO, LIFO, HIFO:
	default:
		return fmt.Errorf("config: unknown method %q", c.Method)
	}
	if c.TaxCurrency == "" {
		return fmt.Errorf("config: tax_currency must not be empty")
	}
	if c.ClassifierThreshold < 0 || c.ClassifierThreshold > 1 {
		return fmt.Errorf("config: classifier_threshold must be in [0,1], got %v", c.ClassifierThreshold)
	}
	if c.DetectorConfidenceThreshold < 0 || c.DetectorConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold must be in [0,1], got %v", c.DetectorConfidenceThreshold)
	}
	return nil
}

// Load reads an EngineConfig from a viper instance populated from a config
// file (YAML), environment variables (CRYPTOTAX_* prefix), and/or flags
// bound by the caller (cmd/cryptotax). Defaults fill any unset key first.
func Load(v *viper.Viper) (EngineConfig, error) {
	cfg := Default()

	v.SetDefault("method", string(cfg.Method))
	v.SetDefault("tax_currency", cfg.TaxCurrency)
	v.SetDefault("strict_mode", cfg.StrictMode)
	v.SetDefault("fetch_missing_prices", cfg.FetchMissingPrices)
	v.SetDefault("remove_duplicates", cfg.RemoveDuplicates)
	v.SetDefault("confidence_threshold", cfg.DetectorConfidenceThreshold)
	v.SetDefault("classifier_threshold", cfg.ClassifierThreshold)
	v.SetDefault("mapping_path", cfg.MappingPath)
	v.SetDefault("output_dir", cfg.OutputDir)

	cfg.Method = Method(v.GetString("method"))
	cfg.TaxCurrency = v.GetString("tax_currency")
	cfg.StrictMode = v.GetBool("strict_mode")
	cfg.FetchMissingPrices = v.GetBool("fetch_missing_prices")
	cfg.RemoveDuplicates = v.GetBool("remove_duplicates")
	cfg.DetectorConfidenceThreshold = v.GetFloat64("confidence_threshold")
	cfg.ClassifierThreshold = v.GetFloat64("classifier_threshold")
	cfg.MappingPath = v.GetString("mapping_path")
	cfg.OutputDir = v.GetString("output_dir")

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}
