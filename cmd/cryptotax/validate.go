package main

import (
	"context"
	"fmt"

	"github.com/MeridianAlgo/cryptotax/normalize"
	"github.com/spf13/cobra"
)

var validateExchangeFlag string

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Normalize a file and print its validation report",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateExchangeFlag, "exchange", "", "exchange id (default: auto-detect via the classifier)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	clf := loadClassifier(reg)

	n := normalize.New(reg, clf, nil)
	result, err := n.Normalize(context.Background(), args[0], normalize.Options{
		ExchangeID:          validateExchangeFlag,
		ClassifierThreshold: cfg.ClassifierThreshold,
		RemoveDuplicates:    cfg.RemoveDuplicates,
		TaxCurrency:         cfg.TaxCurrency,
	})
	if err != nil {
		return userError("normalizing %s: %v", args[0], err)
	}

	report := result.Validation
	fmt.Printf("total_transactions: %d\n", report.TotalTransactions)
	fmt.Printf("duplicates_found: %d\n", report.DuplicatesFound)
	fmt.Printf("negative_amounts: %d\n", report.NegativeAmounts)
	fmt.Printf("negative_balances: %d\n", len(report.NegativeBalances))
	fmt.Printf("invalid_dates: %d\n", report.InvalidDates)
	fmt.Printf("orphan_sells: %d\n", len(report.OrphanSells))
	for field, count := range report.MissingData {
		if count > 0 {
			fmt.Printf("missing_data[%s]: %d\n", field, count)
		}
	}
	fmt.Printf("valid: %v\n", report.Valid)

	if cfg.StrictMode && !report.Valid {
		return validationError("validation failed for %s", args[0])
	}
	if cfg.StrictMode && report.Issues.HasErrors() {
		return validationError("strict validation failed for %s", args[0])
	}
	return nil
}
