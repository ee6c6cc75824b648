package main

import (
	"context"
	"fmt"

	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/normalize"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/taxengine"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/spf13/cobra"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate <normalized-file>...",
	Short: "Run the tax engine over one or more normalized transaction CSVs and print a summary",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCalculate,
}

func runCalculate(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}

	records, err := loadAndCombine(args)
	if err != nil {
		return err
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

	fmt.Printf("disposals: %d\n", len(result.Disposals))
	fmt.Printf("income_events: %d\n", len(result.Incomes))
	fmt.Printf("total_short_term_gains: %s\n", result.TotalShortTermGains.Round(2))
	fmt.Printf("total_long_term_gains: %s\n", result.TotalLongTermGains.Round(2))
	fmt.Printf("total_income: %s\n", result.TotalIncome.Round(2))
	for _, issue := range result.Issues.Issues() {
		fmt.Println(issue.String())
	}

	if cfg.StrictMode && result.Issues.HasErrors() {
		return validationError("tax engine reported errors in strict mode")
	}
	return nil
}

// loadAndCombine reads each normalized CSV and combines them under the
// ordering guarantee: concatenate, then stable-sort by timestamp with
// source file as the tie-break.
func loadAndCombine(paths []string) ([]txn.Record, error) {
	var sets [][]txn.Record
	for _, path := range paths {
		records, err := normalize.ReadCanonicalCSV(path)
		if err != nil {
			return nil, userError("reading %s: %v", path, err)
		}
		sets = append(sets, records)
	}
	return normalize.Combine(sets...), nil
}
