// Package report emits a tax engine run's output into a fixed directory
// layout of CSV and JSON artifacts, using tabular.WriteCSV for the CSV
// outputs.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/tabular"
	"github.com/MeridianAlgo/cryptotax/taxengine"
	"github.com/shopspring/decimal"
)

// presentationScale rounds currency values to 2 decimal places for
// display; internal computation remains in decimal.
const presentationScale = 2

// TaxSummary is the contents of tax_summary.json.
type TaxSummary struct {
	Method               string          `json:"method"`
	TaxCurrency          string          `json:"tax_currency"`
	TotalShortTermGains  decimal.Decimal `json:"total_short_term_gains"`
	TotalLongTermGains   decimal.Decimal `json:"total_long_term_gains"`
	TotalIncome          decimal.Decimal `json:"total_income"`
	TotalTransactions    int             `json:"total_transactions"`
}

// Summary is the contents of summary.json.
type Summary struct {
	TotalShortTermGains decimal.Decimal `json:"total_short_term_gains"`
	TotalLongTermGains  decimal.Decimal `json:"total_long_term_gains"`
	TotalGainLoss       decimal.Decimal `json:"total_gain_loss"`
	TotalIncome         decimal.Decimal `json:"total_income"`
	TotalTransactions   int             `json:"total_transactions"`
	AssetsTraded        []string        `json:"assets_traded"`
}

// Writer emits the report files into a fixed output directory.
type Writer struct {
	OutputDir string
}

// New returns a Writer rooted at outputDir. New does not touch the
// filesystem; Write creates the directory if absent.
func New(outputDir string) *Writer {
	return &Writer{OutputDir: outputDir}
}

// Write emits all six report artifacts for one tax-engine Result.
func (w *Writer) Write(result taxengine.Result, policy ledger.Policy, taxCurrency string, totalTransactions int) error {
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return err
	}

	if err := w.writeGainsLosses(result.Disposals); err != nil {
		return err
	}
	if err := w.writeIncomeEvents(result.Incomes); err != nil {
		return err
	}
	if err := w.writeTaxSummary(result, policy, taxCurrency, totalTransactions); err != nil {
		return err
	}
	if err := w.writeTurbotaxImport(result.Disposals); err != nil {
		return err
	}
	if err := w.writeDetailedTaxReport(result.Disposals, result.Incomes); err != nil {
		return err
	}
	if err := w.writeSummary(result, totalTransactions); err != nil {
		return err
	}
	return nil
}

func round2(d decimal.Decimal) string {
	return d.Round(presentationScale).StringFixed(presentationScale)
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.OutputDir, name)
}

func termLabel(shortTerm bool) string {
	if shortTerm {
		return "Short"
	}
	return "Long"
}

func (w *Writer) writeGainsLosses(disposals []taxengine.DisposalEvent) error {
	header := []string{
		"date", "asset", "amount", "proceeds", "cost_basis", "gain_loss",
		"short_term", "holding_period_days", "acquisition_date", "method",
		"transaction_id", "note",
	}
	rows := make([][]string, 0, len(disposals))
	for _, d := range disposals {
		rows = append(rows, []string{
			d.Date.UTC().Format("2006-01-02T15:04:05Z"),
			d.Asset,
			d.Amount.String(),
			round2(d.Proceeds),
			round2(d.CostBasis),
			round2(d.GainLoss),
			boolStr(d.ShortTerm),
			itoa(d.HoldingDays),
			d.AcquiredAt.UTC().Format("2006-01-02T15:04:05Z"),
			string(d.Method),
			d.SourceTx,
			d.Note,
		})
	}
	return tabular.WriteCSV(w.path("gains_losses.csv"), header, rows)
}

func (w *Writer) writeIncomeEvents(incomes []taxengine.IncomeEvent) error {
	header := []string{"date", "asset", "amount", "price", "income_amount", "type", "transaction_id"}
	rows := make([][]string, 0, len(incomes))
	for _, inc := range incomes {
		rows = append(rows, []string{
			inc.Date.UTC().Format("2006-01-02T15:04:05Z"),
			inc.Asset,
			inc.Amount.String(),
			round2(inc.UnitPrice),
			round2(inc.Value),
			string(inc.Kind),
			inc.SourceTx,
		})
	}
	return tabular.WriteCSV(w.path("income_events.csv"), header, rows)
}

func (w *Writer) writeTaxSummary(result taxengine.Result, policy ledger.Policy, taxCurrency string, totalTransactions int) error {
	summary := TaxSummary{
		Method:              string(policy),
		TaxCurrency:         taxCurrency,
		TotalShortTermGains: result.TotalShortTermGains.Round(presentationScale),
		TotalLongTermGains:  result.TotalLongTermGains.Round(presentationScale),
		TotalIncome:         result.TotalIncome.Round(presentationScale),
		TotalTransactions:   totalTransactions,
	}
	return writeJSON(w.path("tax_summary.json"), summary)
}

// writeTurbotaxImport emits rows sorted by Date Sold ascending.
func (w *Writer) writeTurbotaxImport(disposals []taxengine.DisposalEvent) error {
	sorted := make([]taxengine.DisposalEvent, len(disposals))
	copy(sorted, disposals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	header := []string{
		"Description", "Date Acquired (MM/DD/YYYY)", "Date Sold (MM/DD/YYYY)",
		"Proceeds", "Cost Basis", "Gain/Loss", "Term", "Asset", "Amount",
	}
	rows := make([][]string, 0, len(sorted))
	for _, d := range sorted {
		rows = append(rows, []string{
			d.Amount.String() + " " + d.Asset,
			d.AcquiredAt.Format("01/02/2006"),
			d.Date.Format("01/02/2006"),
			round2(d.Proceeds),
			round2(d.CostBasis),
			round2(d.GainLoss),
			termLabel(d.ShortTerm),
			d.Asset,
			d.Amount.String(),
		})
	}
	return tabular.WriteCSV(w.path("turbotax_import.csv"), header, rows)
}

// writeDetailedTaxReport unifies disposals and income rows into one
// chronological table.
func (w *Writer) writeDetailedTaxReport(disposals []taxengine.DisposalEvent, incomes []taxengine.IncomeEvent) error {
	type row struct {
		date   string
		fields []string
	}
	var rows []row
	for _, d := range disposals {
		rows = append(rows, row{
			date: d.Date.UTC().Format("2006-01-02T15:04:05Z"),
			fields: []string{
				d.Date.UTC().Format("2006-01-02T15:04:05Z"), "Capital Gain/Loss", d.Asset,
				d.Amount.String(), round2(d.Proceeds), round2(d.CostBasis), round2(d.GainLoss),
				termLabel(d.ShortTerm), d.SourceTx,
			},
		})
	}
	for _, inc := range incomes {
		rows = append(rows, row{
			date: inc.Date.UTC().Format("2006-01-02T15:04:05Z"),
			fields: []string{
				inc.Date.UTC().Format("2006-01-02T15:04:05Z"), "Income - " + string(inc.Kind), inc.Asset,
				inc.Amount.String(), round2(inc.Value), "", "", "", inc.SourceTx,
			},
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date < rows[j].date })

	header := []string{
		"date", "type", "asset", "amount", "proceeds_or_value", "cost_basis",
		"gain_loss", "term", "transaction_id",
	}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.fields)
	}
	return tabular.WriteCSV(w.path("detailed_tax_report.csv"), header, out)
}

func (w *Writer) writeSummary(result taxengine.Result, totalTransactions int) error {
	assets := map[string]bool{}
	for _, d := range result.Disposals {
		assets[d.Asset] = true
	}
	for _, inc := range result.Incomes {
		assets[inc.Asset] = true
	}
	assetList := make([]string, 0, len(assets))
	for a := range assets {
		assetList = append(assetList, a)
	}
	sort.Strings(assetList)

	summary := Summary{
		TotalShortTermGains: result.TotalShortTermGains.Round(presentationScale),
		TotalLongTermGains:  result.TotalLongTermGains.Round(presentationScale),
		TotalGainLoss:       result.TotalShortTermGains.Add(result.TotalLongTermGains).Round(presentationScale),
		TotalIncome:         result.TotalIncome.Round(presentationScale),
		TotalTransactions:   totalTransactions,
		AssetsTraded:        assetList,
	}
	return writeJSON(w.path("summary.json"), summary)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
