package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeridianAlgo/cryptotax/normalize"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/spf13/cobra"
)

var normalizeExchangeFlag string

var normalizeCmd = &cobra.Command{
	Use:   "normalize <file>",
	Short: "Turn a raw exchange export into a canonical transaction CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runNormalize,
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeExchangeFlag, "exchange", "", "exchange id (default: auto-detect via the classifier)")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	clf := loadClassifier(reg)

	var priceOracle oracle.Oracle
	if cfg.FetchMissingPrices {
		priceOracle = buildOracle()
	}

	n := normalize.New(reg, clf, priceOracle)
	result, err := n.Normalize(context.Background(), args[0], normalize.Options{
		ExchangeID:          normalizeExchangeFlag,
		ClassifierThreshold: cfg.ClassifierThreshold,
		FetchMissingPrices:  cfg.FetchMissingPrices,
		RemoveDuplicates:    cfg.RemoveDuplicates,
		TaxCurrency:         cfg.TaxCurrency,
	})
	if err != nil {
		return userError("normalizing %s: %v", args[0], err)
	}

	outPath := normalizedOutputPath(cfg.OutputDir, args[0])
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return internalError("creating output directory %s: %v", cfg.OutputDir, err)
	}
	if err := normalize.WriteCanonicalCSV(outPath, result.Records); err != nil {
		return internalError("writing %s: %v", outPath, err)
	}

	fmt.Printf("wrote %d records to %s\n", len(result.Records), outPath)
	for _, issue := range result.Issues.Issues() {
		fmt.Println(issue.String())
	}
	if cfg.StrictMode && result.Validation.Issues.HasErrors() {
		return validationError("validation failed for %s", args[0])
	}
	return nil
}

func normalizedOutputPath(outputDir, inputFile string) string {
	base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	return filepath.Join(outputDir, base+"_normalized.csv")
}
