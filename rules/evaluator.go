package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/registry"
)

// DateLayout is the ISO calendar date format used for effective dates.
const DateLayout = "2006-01-02"

// Evaluate applies rule to in and returns the result with its trace.
//
// Evaluate is pure: it does no I/O, keeps no state between calls and never
// fails. Ineligible outcomes are reported through Eligible and the compliance
// flags. Steps run in a fixed order and the first gate that fails returns.
func Evaluate(rule *RuleDefinition, in EvalInput) EvalResult {
	if !rule.Active {
		return ineligible(decimal.Zero, FlagRuleInactive, TraceStep{Step: StepRuleInactive})
	}

	if registry.NormalizeCode(in.JurisdictionCode) != registry.NormalizeCode(rule.JurisdictionCode) {
		return ineligible(decimal.Zero, FlagJurisdictionMismatch, TraceStep{Step: StepJurisdictionMismatch})
	}

	if start, ok := ParseDate(in.ProductionStartDate); ok {
		if rule.EffectiveFrom != nil && start.Before(*rule.EffectiveFrom) {
			return ineligible(decimal.Zero, FlagOutsideEffectiveDates, TraceStep{
				Step: StepOutsideEffectiveDates,
				Details: map[string]any{
					"boundary":            "effective_from",
					"productionStartDate": start.Format(DateLayout),
					"effectiveFrom":       rule.EffectiveFrom.Format(DateLayout),
				},
			})
		}
		if rule.EffectiveTo != nil && start.After(*rule.EffectiveTo) {
			return ineligible(decimal.Zero, FlagOutsideEffectiveDates, TraceStep{
				Step: StepOutsideEffectiveDates,
				Details: map[string]any{
					"boundary":            "effective_to",
					"productionStartDate": start.Format(DateLayout),
					"effectiveTo":         rule.EffectiveTo.Format(DateLayout),
				},
			})
		}
	}

	elig := rule.Eligibility
	flags := []Flag{}
	trace := make([]TraceStep, 0, 4)

	total := decimal.Zero
	counted, skipped := 0, 0
	filterErrors := 0
	var firstFilterErr error
	for _, item := range in.Expenses {
		ok, err := qualifies(elig, item)
		if err != nil {
			filterErrors++
			if firstFilterErr == nil {
				firstFilterErr = err
			}
		}
		if !ok {
			skipped++
			continue
		}
		total = total.Add(item.Amount)
		counted++
	}

	spend := TraceStep{
		Step: StepQualifiedSpend,
		Details: map[string]any{
			"total":                  total.String(),
			"counted":                counted,
			"skipped":                skipped,
			"inStateRequired":        elig.InStateRequired,
			"laborResidencyRequired": elig.LaborResidencyRequired,
		},
	}
	if elig.ExpenseFilter != nil {
		spend.Details["expenseFilter"] = elig.ExpenseFilter.Source
		spend.Details["expenseFilterErrors"] = filterErrors
		if firstFilterErr != nil {
			spend.Details["expenseFilterError"] = firstFilterErr.Error()
		}
	}
	trace = append(trace, spend)

	if elig.MinQualifiedSpend.IsPositive() && total.LessThan(elig.MinQualifiedSpend) {
		flags = append(flags, FlagBelowMinQualifiedSpend)
		trace = append(trace, TraceStep{
			Step: StepBelowMinSpend,
			Details: map[string]any{
				"required": elig.MinQualifiedSpend.String(),
				"actual":   total.String(),
			},
		})
		return EvalResult{
			Eligible:            false,
			BenefitAmount:       decimal.Zero,
			QualifiedSpendTotal: total,
			ComplianceFlags:     flags,
			Trace:               trace,
		}
	}

	calc := rule.Calculation
	if calc.Base != BaseQualifiedSpendTotal {
		flags = append(flags, FlagBaseFallback)
		trace = append(trace, TraceStep{
			Step: StepBaseFallback,
			Details: map[string]any{
				"requested": calc.Base,
				"used":      BaseQualifiedSpendTotal,
			},
		})
	}
	base := total

	benefit := base.Mul(calc.Rate)
	trace = append(trace, TraceStep{
		Step: StepRateApplied,
		Details: map[string]any{
			"rate":      calc.Rate.String(),
			"baseTotal": base.String(),
			"benefit":   benefit.String(),
		},
	})

	if calc.Caps.MaxBenefit.Valid && benefit.GreaterThan(calc.Caps.MaxBenefit.Decimal) {
		benefit = calc.Caps.MaxBenefit.Decimal
		flags = append(flags, FlagCappedMaxBenefit)
		trace = append(trace, TraceStep{
			Step: StepCapApplied,
			Details: map[string]any{
				"maxBenefit": calc.Caps.MaxBenefit.Decimal.String(),
				"benefit":    benefit.String(),
			},
		})
	}

	return EvalResult{
		Eligible:            true,
		BenefitAmount:       benefit,
		QualifiedSpendTotal: total,
		ComplianceFlags:     flags,
		Trace:               trace,
	}
}

// qualifies runs the expense filters in order; the first exclusion wins.
// A non-nil error means the expense filter failed to evaluate and the item
// is skipped.
func qualifies(elig Eligibility, item ExpenseItem) (bool, error) {
	category := strings.ToLower(item.Category)

	if len(elig.QualifiedCategories) > 0 && !elig.QualifiedCategories.Contains(category) {
		return false, nil
	}
	if len(elig.ExcludeCategories) > 0 && elig.ExcludeCategories.Contains(category) {
		return false, nil
	}

	if !item.IsQualified() {
		return false, nil
	}
	if elig.InStateRequired && !item.IsInState() {
		return false, nil
	}
	if elig.LaborResidencyRequired && item.IsLabor() && !item.IsResident() {
		return false, nil
	}

	if elig.ExpenseFilter != nil {
		matched, err := elig.ExpenseFilter.Matches(item)
		if err != nil {
			return false, err
		}
		return matched, nil
	}

	return true, nil
}

func ineligible(total decimal.Decimal, flag Flag, step TraceStep) EvalResult {
	return EvalResult{
		Eligible:            false,
		BenefitAmount:       decimal.Zero,
		QualifiedSpendTotal: total,
		ComplianceFlags:     []Flag{flag},
		Trace:               []TraceStep{step},
	}
}

// ParseDate parses an ISO calendar date. Blank or malformed input reports ok == false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
