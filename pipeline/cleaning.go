package pipeline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultQuantile is the outlier cutoff quantile.
const DefaultQuantile = 0.99

// DefaultOutlierColumns are trimmed in this order, each on what the previous step left.
var DefaultOutlierColumns = []string{TargetColumn, ColTripDistanceKm, ColTripDurationMinutes}

// CleaningOptions configures a DataCleaner. Zero values select the defaults.
type CleaningOptions struct {
	Quantile       float64
	Rules          []RuleSpec
	OutlierColumns []string
}

// Cutoff is an outlier threshold computed during one cleaning run.
type Cutoff struct {
	Column   string  `json:"column"`
	Quantile float64 `json:"quantile"`
	Value    float64 `json:"value"`
}

// CleaningReport summarises one Clean call.
type CleaningReport struct {
	RowsIn         int            `json:"rows_in"`
	MissingDropped int            `json:"missing_dropped"`
	RuleDropped    map[string]int `json:"rule_dropped"`
	OutlierDropped map[string]int `json:"outlier_dropped"`
	Cutoffs        []Cutoff       `json:"cutoffs"`
	RowsOut        int            `json:"rows_out"`
}

// DataCleaner filters trip rows: missing fields, then validity rules, then outliers.
type DataCleaner struct {
	required       CleaningRule
	rules          []CleaningRule
	quantile       float64
	outlierColumns []string
}

// NewDataCleaner compiles the configured rules.
func NewDataCleaner(opts CleaningOptions) (*DataCleaner, error) {
	if opts.Quantile == 0 {
		opts.Quantile = DefaultQuantile
	}
	if opts.Quantile < 0 || opts.Quantile > 1 {
		return nil, fmt.Errorf("quantile %.3f out of range", opts.Quantile)
	}
	if len(opts.Rules) == 0 {
		opts.Rules = DefaultRuleSpecs()
	}
	if opts.OutlierColumns == nil {
		opts.OutlierColumns = DefaultOutlierColumns
	}

	env, err := NewRuleEnv()
	if err != nil {
		return nil, err
	}

	cleaner := &DataCleaner{
		required:       requiredFieldsRule{},
		quantile:       opts.Quantile,
		outlierColumns: opts.OutlierColumns,
	}
	for _, spec := range opts.Rules {
		rule, err := NewExpressionRule(env, spec)
		if err != nil {
			return nil, err
		}
		cleaner.AddRule(rule)
	}
	return cleaner, nil
}

// AddRule appends a validity rule.
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// RuleNames lists the validity rules in evaluation order.
func (dc *DataCleaner) RuleNames() []string {
	names := make([]string, len(dc.rules))
	for i, rule := range dc.rules {
		names[i] = rule.Name()
	}
	return names
}

// RuleExpressions maps each expression rule to its CEL source.
func (dc *DataCleaner) RuleExpressions() map[string]string {
	exprs := make(map[string]string, len(dc.rules))
	for _, rule := range dc.rules {
		if er, ok := rule.(*ExpressionRule); ok {
			exprs[er.Name()] = er.Expression()
		}
	}
	return exprs
}

// Clean returns the surviving rows; records is not modified. An empty result is not an error.
func (dc *DataCleaner) Clean(records []TripRecord) ([]TripRecord, CleaningReport) {
	report := CleaningReport{
		RowsIn:         len(records),
		RuleDropped:    make(map[string]int),
		OutlierDropped: make(map[string]int),
	}

	valid := make([]TripRecord, 0, len(records))
	for i := range records {
		record := records[i]
		if err := dc.required.Apply(&record); err != nil {
			report.MissingDropped++
			continue
		}
		if name, rejected := dc.reject(&record); rejected {
			report.RuleDropped[name]++
			continue
		}
		valid = append(valid, record)
	}

	cleaned := valid
	for _, column := range dc.outlierColumns {
		if len(cleaned) == 0 {
			break
		}
		cutoff := Cutoff{
			Column:   column,
			Quantile: dc.quantile,
			Value:    Quantile(columnValues(cleaned, column), dc.quantile),
		}
		before := len(cleaned)
		cleaned = filterBelow(cleaned, cutoff)
		report.OutlierDropped[column] = before - len(cleaned)
		report.Cutoffs = append(report.Cutoffs, cutoff)
	}

	report.RowsOut = len(cleaned)
	return cleaned, report
}

func (dc *DataCleaner) reject(record *TripRecord) (string, bool) {
	for _, rule := range dc.rules {
		if err := rule.Apply(record); err != nil {
			return rule.Name(), true
		}
	}
	return "", false
}

// ApplyCutoffs keeps rows strictly below every given cutoff.
func ApplyCutoffs(records []TripRecord, cutoffs []Cutoff) []TripRecord {
	kept := records
	for _, cutoff := range cutoffs {
		kept = filterBelow(kept, cutoff)
	}
	return kept
}

func filterBelow(records []TripRecord, cutoff Cutoff) []TripRecord {
	kept := make([]TripRecord, 0, len(records))
	for _, record := range records {
		if record.Value(cutoff.Column) < cutoff.Value {
			kept = append(kept, record)
		}
	}
	return kept
}

func columnValues(records []TripRecord, column string) []float64 {
	values := make([]float64, len(records))
	for i, record := range records {
		values[i] = record.Value(column)
	}
	return values
}

// Quantile interpolates linearly between the closest ranks at position (n-1)*q.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	// gonum's LinInterp places sample i at i/n; shifting p lands on rank (n-1)*q.
	p := ((float64(n)-1)*q + 1) / float64(n)
	if p > 1 {
		p = 1
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
