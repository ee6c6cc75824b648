package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/normalize"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/report"
	"github.com/MeridianAlgo/cryptotax/taxengine"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <normalized-file>...",
	Short: "Run the tax engine over normalized CSVs and write the full report directory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}

	records, err := loadAndCombine(args)
	if err != nil {
		return err
	}

	if len(args) > 1 {
		combinedPath := filepath.Join(cfg.OutputDir, "combined_transactions.csv")
		if err := normalize.WriteCanonicalCSV(combinedPath, records); err != nil {
			return internalError("writing %s: %v", combinedPath, err)
		}
	}

	var priceOracle oracle.Oracle
	if cfg.FetchMissingPrices {
		priceOracle = buildOracle()
	}

	engine := taxengine.New(priceOracle, taxengine.Options{
		Policy:      ledger.Policy(cfg.Method),
		TaxCurrency: cfg.TaxCurrency,
		StrictMode:  cfg.StrictMode,
	})

	result, err := engine.Run(context.Background(), records)
	if err != nil {
		return internalError("running tax engine: %v", err)
	}

	reportsDir := filepath.Join(cfg.OutputDir, "reports")
	writer := report.New(reportsDir)
	if err := writer.Write(result, ledger.Policy(cfg.Method), cfg.TaxCurrency, len(records)); err != nil {
		return internalError("writing reports: %v", err)
	}

	fmt.Printf("wrote reports to %s\n", reportsDir)
	if cfg.StrictMode && result.Issues.HasErrors() {
		return validationError("tax engine reported errors in strict mode")
	}
	return nil
}
