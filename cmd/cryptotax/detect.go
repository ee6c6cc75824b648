package main

import (
	"fmt"

	"github.com/MeridianAlgo/cryptotax/detector"
	"github.com/MeridianAlgo/cryptotax/tabular"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Identify which exchange a transaction export came from",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	table, err := tabular.ReadHead(args[0], 10)
	if err != nil {
		return userError("reading %s: %v", args[0], err)
	}

	det := detector.New(reg, cfg.DetectorConfidenceThreshold)
	result, err := det.Detect(table.Header, table.Rows)
	if err != nil {
		return userError("detecting exchange for %s: %v", args[0], err)
	}

	fmt.Printf("exchange: %s\n", result.ExchangeID)
	fmt.Printf("confidence: %.3f\n", result.Confidence)
	if result.NeedsConfirmation {
		fmt.Println("needs_confirmation: true")
	}
	for _, tie := range result.Ties {
		fmt.Printf("tie candidate: %s (%.3f)\n", tie.ExchangeID, tie.Score)
	}
	return nil
}
