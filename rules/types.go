package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaseQualifiedSpendTotal is the only calculation base the evaluator implements.
const BaseQualifiedSpendTotal = "qualified_spend_total"

// Flag is a machine-readable tag recording a notable evaluation outcome.
type Flag string

const (
	FlagRuleInactive           Flag = "RULE_INACTIVE"
	FlagJurisdictionMismatch   Flag = "JURISDICTION_MISMATCH"
	FlagOutsideEffectiveDates  Flag = "OUTSIDE_EFFECTIVE_DATES"
	FlagBelowMinQualifiedSpend Flag = "BELOW_MIN_QUALIFIED_SPEND"
	FlagBaseFallback           Flag = "BASE_FALLBACK_TO_QUALIFIED_SPEND_TOTAL"
	FlagCappedMaxBenefit       Flag = "CAPPED_MAX_BENEFIT"
)

// Gating reports whether the flag marks an ineligible outcome.
func (f Flag) Gating() bool {
	switch f {
	case FlagRuleInactive, FlagJurisdictionMismatch, FlagOutsideEffectiveDates, FlagBelowMinQualifiedSpend:
		return true
	}
	return false
}

// RuleDefinition is a typed, validated incentive rule for one jurisdiction.
// Instances come from Parse and are treated as immutable.
type RuleDefinition struct {
	ID               string
	Name             string
	Version          string // semver, optional
	JurisdictionCode string // normalized
	Active           bool
	EffectiveFrom    *time.Time // inclusive, date only
	EffectiveTo      *time.Time // inclusive, date only
	Eligibility      Eligibility
	Calculation      Calculation

	// Raw is the document the definition was parsed from.
	Raw []byte
}

// Eligibility holds the gates and filters applied to expenses.
type Eligibility struct {
	MinQualifiedSpend      decimal.Decimal // zero disables the gate
	QualifiedCategories    CategorySet     // empty means no allow-list
	ExcludeCategories      CategorySet
	InStateRequired        bool
	LaborResidencyRequired bool
	ExpenseFilter          *Expression // optional CEL predicate
}

// Calculation describes how the benefit is derived from the base.
type Calculation struct {
	Rate decimal.Decimal // fractional, 0.30 == 30%
	Base string
	Caps Caps
}

// Caps bounds the computed benefit.
type Caps struct {
	MaxBenefit decimal.NullDecimal
}

// CategorySet is a set of lowercase category names.
type CategorySet map[string]struct{}

// NewCategorySet builds a set from names, lowercased as given.
func NewCategorySet(names ...string) CategorySet {
	set := make(CategorySet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s CategorySet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in no particular order.
func (s CategorySet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	return names
}

// ExpenseItem is one caller-supplied line item.
// Nil flags take their defaults: qualified, in-state and resident default to
// true, labor defaults to false.
type ExpenseItem struct {
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Qualified *bool           `json:"qualified,omitempty"`
	InState   *bool           `json:"inState,omitempty"`
	Labor     *bool           `json:"labor,omitempty"`
	Resident  *bool           `json:"resident,omitempty"`
}

func (e ExpenseItem) IsQualified() bool { return boolOr(e.Qualified, true) }
func (e ExpenseItem) IsInState() bool   { return boolOr(e.InState, true) }
func (e ExpenseItem) IsLabor() bool     { return boolOr(e.Labor, false) }
func (e ExpenseItem) IsResident() bool  { return boolOr(e.Resident, true) }

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Bool returns a pointer to b, for building expense items.
func Bool(b bool) *bool {
	return &b
}

// EvalInput is everything the evaluator needs besides the rule.
type EvalInput struct {
	JurisdictionCode    string
	ProductionStartDate string // YYYY-MM-DD, optional
	Expenses            []ExpenseItem
}

// EvalResult is the outcome of one evaluation.
type EvalResult struct {
	Eligible            bool            `json:"eligible"`
	BenefitAmount       decimal.Decimal `json:"benefitAmount"`
	QualifiedSpendTotal decimal.Decimal `json:"qualifiedSpendTotal"`
	ComplianceFlags     []Flag          `json:"complianceFlags"`
	Trace               []TraceStep     `json:"trace"`
}

// HasFlag reports whether f was raised.
func (r *EvalResult) HasFlag(f Flag) bool {
	for _, got := range r.ComplianceFlags {
		if got == f {
			return true
		}
	}
	return false
}

// GatingFlag returns the first flag that made the result ineligible, if any.
func (r *EvalResult) GatingFlag() (Flag, bool) {
	for _, f := range r.ComplianceFlags {
		if f.Gating() {
			return f, true
		}
	}
	return "", false
}

// TraceStep records one evaluation step. Decimal details are rendered as
// strings so the trace serializes exactly. Debug output only.
type TraceStep struct {
	Step    string         `json:"step"`
	Details map[string]any `json:"details,omitempty"`
}

// Trace step names.
const (
	StepRuleInactive          = "rule_inactive"
	StepJurisdictionMismatch  = "jurisdiction_mismatch"
	StepOutsideEffectiveDates = "outside_effective_dates"
	StepQualifiedSpend        = "qualified_spend"
	StepBelowMinSpend         = "below_min_qualified_spend"
	StepBaseFallback          = "base_fallback"
	StepRateApplied           = "rate_applied"
	StepCapApplied            = "cap_applied"
)
