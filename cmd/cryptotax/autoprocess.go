package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeridianAlgo/cryptotax/classifier"
	"github.com/MeridianAlgo/cryptotax/config"
	"github.com/MeridianAlgo/cryptotax/detector"
	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/mapping"
	"github.com/MeridianAlgo/cryptotax/normalize"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/report"
	"github.com/MeridianAlgo/cryptotax/tabular"
	"github.com/MeridianAlgo/cryptotax/taxengine"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var autoProcessCmd = &cobra.Command{
	Use:   "auto-process <directory>",
	Short: "Detect, normalize, combine, and report over every export in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runAutoProcess,
}

func runAutoProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	clf := loadClassifier(reg)
	det := detector.New(reg, cfg.DetectorConfidenceThreshold)

	var priceOracle oracle.Oracle
	if cfg.FetchMissingPrices {
		priceOracle = buildOracle()
	}

	files, err := listInputFiles(args[0])
	if err != nil {
		return userError("listing %s: %v", args[0], err)
	}
	if len(files) == 0 {
		return userError("no input files found in %s", args[0])
	}

	// Independent files are normalized in parallel; the tax engine itself
	// is never parallelized across records.
	results := make([][]txn.Record, len(files))
	fileErrs := make([]error, len(files))
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			records, ferr := normalizeOneFile(reg, clf, det, priceOracle, cfg, file)
			results[i] = records
			fileErrs[i] = ferr
		}(i, file)
	}
	wg.Wait()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return internalError("creating output directory: %v", err)
	}

	var sets [][]txn.Record
	for i, file := range files {
		if fileErrs[i] != nil {
			logrus.WithField("file", file).WithError(fileErrs[i]).Warn("skipping file that failed to normalize")
			continue
		}
		outPath := normalizedOutputPath(cfg.OutputDir, file)
		if err := normalize.WriteCanonicalCSV(outPath, results[i]); err != nil {
			return internalError("writing %s: %v", outPath, err)
		}
		sets = append(sets, results[i])
	}
	if len(sets) == 0 {
		return userError("every file in %s failed to normalize", args[0])
	}

	combined := normalize.Combine(sets...)
	if len(sets) > 1 {
		combinedPath := filepath.Join(cfg.OutputDir, "combined_transactions.csv")
		if err := normalize.WriteCanonicalCSV(combinedPath, combined); err != nil {
			return internalError("writing %s: %v", combinedPath, err)
		}
	}

	engine := taxengine.New(priceOracle, taxengine.Options{
		Policy:      ledger.Policy(cfg.Method),
		TaxCurrency: cfg.TaxCurrency,
		StrictMode:  cfg.StrictMode,
	})
	result, err := engine.Run(context.Background(), combined)
	if err != nil {
		return internalError("running tax engine: %v", err)
	}

	reportsDir := filepath.Join(cfg.OutputDir, "reports")
	writer := report.New(reportsDir)
	if err := writer.Write(result, ledger.Policy(cfg.Method), cfg.TaxCurrency, len(combined)); err != nil {
		return internalError("writing reports: %v", err)
	}

	fmt.Printf("processed %d file(s), wrote reports to %s\n", len(sets), reportsDir)
	if cfg.StrictMode && result.Issues.HasErrors() {
		return validationError("tax engine reported errors in strict mode")
	}
	return nil
}

func listInputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".csv" || ext == ".xlsx" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// normalizeOneFile runs detection followed by normalization for a single
// file, self-contained
// so callers can run it concurrently across files.
func normalizeOneFile(
	reg *mapping.Registry,
	clf classifier.Predictor,
	det *detector.Detector,
	priceOracle oracle.Oracle,
	cfg config.EngineConfig,
	file string,
) ([]txn.Record, error) {
	exchangeID := "ml"
	if table, err := tabular.ReadHead(file, 10); err == nil {
		if result, derr := det.Detect(table.Header, table.Rows); derr == nil && result.Confidence > 0.5 {
			exchangeID = result.ExchangeID
		}
	}

	n := normalize.New(reg, clf, priceOracle)
	result, err := n.Normalize(context.Background(), file, normalize.Options{
		ExchangeID:          exchangeID,
		ClassifierThreshold: cfg.ClassifierThreshold,
		FetchMissingPrices:  cfg.FetchMissingPrices,
		RemoveDuplicates:    cfg.RemoveDuplicates,
		TaxCurrency:         cfg.TaxCurrency,
	})
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}
