// Package mapping implements a read-only, load-once-at-startup registry
// of per-exchange column declarations, mirroring original_source's
// config.load_exchange_mappings plus the per-exchange
// unique/signature/required lists auto_detect.py reads out of the same
// document.
package mapping

import (
	"os"
	"sort"
	"strings"

	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.WithField("component", "mapping")

// Reserved exchange ids are never declarable in the document.
var Reserved = map[string]bool{
	"unknown": true,
	"auto":    true,
	"ml":      true,
}

// ColumnRange is an expected [min, max] column-count range for an
// exchange, used by the detector's pattern-score bonus. Optional; zero
// value means no bonus is computed for this exchange.
type ColumnRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r ColumnRange) valid() bool { return r.Max > 0 && r.Max >= r.Min }

// Declaration is one exchange's field-mapping declaration.
type Declaration struct {
	// Fields maps canonical field name -> source column name. A missing or
	// empty value means "not declared"; the normalizer must resolve it via
	// the classifier or fail with MappingInsufficient.
	Fields map[string]string `yaml:"-"`

	UniqueColumns     []string     `yaml:"unique_columns"`
	SignaturePatterns []string     `yaml:"signature_patterns"`
	RequiredColumns   []string     `yaml:"required_columns"`
	ColumnRange       *ColumnRange `yaml:"column_range"`
}

// rawDeclaration lets yaml.v3 decode the free-form canonical-field keys
// alongside the reserved metadata keys into one map, which is then split
// into Declaration.Fields vs. the metadata lists.
type rawDeclaration map[string]interface{}

var metadataKeys = map[string]bool{
	"unique_columns":     true,
	"signature_patterns": true,
	"required_columns":   true,
	"column_range":       true,
}

// Registry holds every loaded Declaration, keyed by lowercase exchange id.
// It is read-only after Load and safe for concurrent use by multiple
// normalizations.
type Registry struct {
	declarations map[string]Declaration
}

// Load parses the document at path into a Registry. Document format: a
// top-level mapping from exchange id to a Declaration.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Path: path, Cause: err}
	}

	var doc map[string]rawDeclaration
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &errs.ConfigError{Path: path, Cause: err}
	}

	reg := &Registry{declarations: make(map[string]Declaration, len(doc))}
	for id, rd := range doc {
		lid := strings.ToLower(strings.TrimSpace(id))
		if Reserved[lid] {
			log.Warnf("declaration for reserved id %q ignored", lid)
			continue
		}
		reg.declarations[lid] = parseDeclaration(rd)
	}
	log.WithField("count", len(reg.declarations)).Info("loaded exchange mapping registry")
	return reg, nil
}

func parseDeclaration(rd rawDeclaration) Declaration {
	d := Declaration{Fields: map[string]string{}}
	for k, v := range rd {
		if metadataKeys[k] {
			switch k {
			case "unique_columns":
				d.UniqueColumns = toStringSlice(v)
			case "signature_patterns":
				d.SignaturePatterns = toStringSlice(v)
			case "required_columns":
				d.RequiredColumns = toStringSlice(v)
			case "column_range":
				if m, ok := v.(map[string]interface{}); ok {
					cr := ColumnRange{}
					if mn, ok := m["min"].(int); ok {
						cr.Min = mn
					}
					if mx, ok := m["max"].(int); ok {
						cr.Max = mx
					}
					if cr.valid() {
						d.ColumnRange = &cr
					}
				}
			}
			continue
		}
		if s, ok := v.(string); ok && s != "" && s != "None" {
			d.Fields[k] = s
		}
	}
	return d
}

func toStringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the declaration for id (case-insensitive). The reserved id
// "ml" is not an error here: callers are expected to special-case it
// before calling Get, since it instructs the normalizer to proceed with
// classifier-only mapping.
func (r *Registry) Get(id string) (Declaration, error) {
	lid := strings.ToLower(strings.TrimSpace(id))
	if Reserved[lid] {
		return Declaration{Fields: map[string]string{}}, nil
	}
	d, ok := r.declarations[lid]
	if !ok {
		return Declaration{}, &errs.UnknownExchangeError{ExchangeID: id, Known: r.ListIDs()}
	}
	return d, nil
}

// ListIDs returns every known exchange id in sorted order, for the
// list-exchanges CLI verb and for diagnostics.
func (r *Registry) ListIDs() []string {
	ids := make([]string, 0, len(r.declarations))
	for id := range r.declarations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every (id, Declaration) pair the registry holds, for the
// detector's candidate-scoring loop.
func (r *Registry) All() map[string]Declaration {
	return r.declarations
}

// TrainingPairs implements classifier.MappingSource: every non-null
// declared (source column, canonical label) pair across all exchanges.
// Each non-null mapping contributes one (source_column_string,
// canonical_label) example.
func (r *Registry) TrainingPairs() [][2]string {
	var pairs [][2]string
	ids := r.ListIDs()
	for _, id := range ids {
		decl := r.declarations[id]
		labels := make([]string, 0, len(decl.Fields))
		for label := range decl.Fields {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			pairs = append(pairs, [2]string{decl.Fields[label], label})
		}
	}
	return pairs
}
