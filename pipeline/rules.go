package pipeline

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// CleaningRule decides whether a row survives cleaning.
type CleaningRule interface {
	Apply(record *TripRecord) error
	Name() string
}

// RuleSpec is a named CEL expression over the trip columns.
type RuleSpec struct {
	Name       string
	Expression string
}

// DefaultRuleSpecs are the validity filters applied before outlier removal.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{Name: "distance_positive", Expression: "Trip_Distance_km > 0.0"},
		{Name: "duration_positive", Expression: "Trip_Duration_Minutes > 0.0"},
		{Name: "base_fare_non_negative", Expression: "Base_Fare >= 0.0"},
		{Name: "per_km_rate_non_negative", Expression: "Per_Km_Rate >= 0.0"},
		{Name: "per_minute_rate_non_negative", Expression: "Per_Minute_Rate >= 0.0"},
		{Name: "price_positive", Expression: "Trip_Price > 0.0"},
	}
}

// NewRuleEnv declares every trip column as a double variable.
func NewRuleEnv() (*cel.Env, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, column := range RequiredColumns() {
		opts = append(opts, cel.Variable(column, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// ExpressionRule is a CleaningRule backed by a compiled CEL program.
type ExpressionRule struct {
	name       string
	expression string
	program    cel.Program
}

// NewExpressionRule compiles spec. The expression must type-check to bool.
func NewExpressionRule(env *cel.Env, spec RuleSpec) (*ExpressionRule, error) {
	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: compile error: %w", spec.Name, issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %v", spec.Name, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s: program creation error: %w", spec.Name, err)
	}
	return &ExpressionRule{name: spec.Name, expression: spec.Expression, program: program}, nil
}

// Name returns the rule name.
func (r *ExpressionRule) Name() string {
	return r.name
}

// Expression returns the CEL source.
func (r *ExpressionRule) Expression() string {
	return r.expression
}

// Apply rejects the record unless the expression evaluates to true.
func (r *ExpressionRule) Apply(record *TripRecord) error {
	out, _, err := r.program.Eval(record.facts())
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", r.name, err)
	}
	if matched, ok := out.Value().(bool); !ok || !matched {
		return fmt.Errorf("%s failed: %s", r.name, r.expression)
	}
	return nil
}

// requiredFieldsRule drops rows with any missing required column.
type requiredFieldsRule struct{}

func (requiredFieldsRule) Name() string {
	return "required_fields"
}

func (requiredFieldsRule) Apply(record *TripRecord) error {
	if record.HasMissing() {
		return fmt.Errorf("row is missing a required field")
	}
	return nil
}
