package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MeridianAlgo/cryptotax/classifier"
	"github.com/MeridianAlgo/cryptotax/config"
	"github.com/MeridianAlgo/cryptotax/mapping"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes returned by Execute.
const (
	exitSuccess         = 0
	exitUserError       = 1
	exitValidationError = 2
	exitInternalError   = 3
)

// cliError pairs an error with the exit code Execute should return for it.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func userError(format string, args ...interface{}) error {
	return &cliError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func validationError(format string, args ...interface{}) error {
	return &cliError{code: exitValidationError, err: fmt.Errorf(format, args...)}
}

func internalError(format string, args ...interface{}) error {
	return &cliError{code: exitInternalError, err: fmt.Errorf(format, args...)}
}

var cfgFile string
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "cryptotax",
	Short: "Normalize crypto exchange exports and compute capital-gain/loss and income events",
	Long: `cryptotax turns a heterogeneous corpus of per-exchange transaction
exports into an auditable stream of realized capital-gain/loss events and
ordinary-income events, using FIFO, LIFO, or HIFO lot accounting with
U.S.-style short/long-term treatment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.Default()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cryptotax.yaml)")
	rootCmd.PersistentFlags().String("mapping-path", defaults.MappingPath, "path to the exchange mapping declaration document")
	rootCmd.PersistentFlags().String("output-dir", defaults.OutputDir, "directory reports and normalized files are written under")
	rootCmd.PersistentFlags().String("method", string(defaults.Method), "disposal policy: fifo, lifo, or hifo")
	rootCmd.PersistentFlags().String("tax-currency", defaults.TaxCurrency, "currency amounts are priced in")
	rootCmd.PersistentFlags().Bool("strict-mode", defaults.StrictMode, "treat validation and inventory warnings as fatal")
	rootCmd.PersistentFlags().Bool("fetch-missing-prices", defaults.FetchMissingPrices, "consult the price oracle for rows missing quote_amount")
	rootCmd.PersistentFlags().Bool("remove-duplicates", defaults.RemoveDuplicates, "drop duplicate rows during normalization")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().Float64("confidence-threshold", defaults.DetectorConfidenceThreshold, "detector confidence below which a result is flagged needs_confirmation")
	rootCmd.PersistentFlags().Float64("classifier-threshold", defaults.ClassifierThreshold, "column classifier minimum confidence to accept a prediction")

	boundFlags := []string{
		"mapping-path", "output-dir", "method", "tax-currency", "strict-mode",
		"fetch-missing-prices", "remove-duplicates", "confidence-threshold", "classifier-threshold",
	}
	for _, name := range boundFlags {
		if err := v.BindPFlag(configKey(name), rootCmd.PersistentFlags().Lookup(name)); err != nil {
			logrus.WithError(err).Panic("failed to bind flag")
		}
	}

	rootCmd.AddCommand(detectCmd, normalizeCmd, validateCmd, calculateCmd, reportCmd, autoProcessCmd, listExchangesCmd)
}

// configKey maps a CLI flag name to the config.Load viper key.
func configKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("cryptotax")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("cryptotax")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		logrus.WithField("file", v.ConfigFileUsed()).Info("using config file")
	}

	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// loadEngineConfig resolves the final config.EngineConfig for this
// invocation: defaults, overridden by config file, overridden by flags
// (the BindPFlag precedence viper already enforces).
func loadEngineConfig() (config.EngineConfig, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.EngineConfig{}, userError("invalid configuration: %v", err)
	}
	return cfg, nil
}

// loadRegistry loads the exchange mapping registry at cfg.MappingPath,
// translating a missing/unparsable document into a user error.
func loadRegistry(cfg config.EngineConfig) (*mapping.Registry, error) {
	reg, err := mapping.Load(cfg.MappingPath)
	if err != nil {
		return nil, userError("loading exchange mapping registry: %v", err)
	}
	return reg, nil
}

// loadClassifier trains or loads the column classifier, falling back to
// the deterministic rule-based classifier if no trained model is
// available.
func loadClassifier(reg *mapping.Registry) classifier.Predictor {
	modelPath := ".cryptotax-classifier.json"
	nb, err := classifier.LoadOrTrain(modelPath, reg)
	if err != nil {
		var unavailable *classifier.ModelUnavailableError
		if errors.As(err, &unavailable) {
			logrus.Warn("no training data available for the column classifier; falling back to rule-based matching")
			return classifier.NewRuleClassifier()
		}
		logrus.WithError(err).Warn("column classifier unavailable; falling back to rule-based matching")
		return classifier.NewRuleClassifier()
	}
	return nb
}

// buildOracle constructs the HTTP-backed price oracle used by normalize
// and calculate when price imputation is requested.
func buildOracle() oracle.Oracle {
	return oracle.NewHTTPOracle()
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ce *cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, "error:", ce.err)
			return ce.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitInternalError
	}
	return exitSuccess
}
