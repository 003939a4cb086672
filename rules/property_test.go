package rules_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/rules"
)

func genExpense() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("production", "payroll", "travel", "Catering", "POST"),
		gen.Int64Range(0, 5_000_000),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	).Map(func(vals []interface{}) rules.ExpenseItem {
		return rules.ExpenseItem{
			Category:  vals[0].(string),
			Amount:    decimal.New(vals[1].(int64), -2),
			Qualified: rules.Bool(vals[2].(bool)),
			InState:   rules.Bool(vals[3].(bool)),
			Labor:     rules.Bool(vals[4].(bool)),
			Resident:  rules.Bool(vals[5].(bool)),
		}
	})
}

func propertyRule(ratePct int, capCents, minCents int64, inState bool) *rules.RuleDefinition {
	rule := &rules.RuleDefinition{
		ID:               "il-incentive",
		Name:             "IL",
		JurisdictionCode: "IL",
		Active:           true,
		Eligibility: rules.Eligibility{
			MinQualifiedSpend:      decimal.New(minCents, -2),
			ExcludeCategories:      rules.NewCategorySet("travel"),
			InStateRequired:        inState,
			LaborResidencyRequired: true,
		},
		Calculation: rules.Calculation{
			Rate: decimal.New(int64(ratePct), -2),
			Base: rules.BaseQualifiedSpendTotal,
		},
	}
	if capCents > 0 {
		rule.Calculation.Caps.MaxBenefit = decimal.NewNullDecimal(decimal.New(capCents, -2))
	}
	return rule
}

func reversed(items []rules.ExpenseItem) []rules.ExpenseItem {
	out := make([]rules.ExpenseItem, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}

// TestEvaluateOrderIndependence verifies expense order never changes the outcome.
// Property: Evaluate(rule, xs) == Evaluate(rule, reverse(xs))
func TestEvaluateOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("qualified spend and benefit ignore expense order", prop.ForAll(
		func(items []rules.ExpenseItem, ratePct int, capCents int64) bool {
			rule := propertyRule(ratePct, capCents, 0, false)
			a := rules.Evaluate(rule, rules.EvalInput{JurisdictionCode: "IL", Expenses: items})
			b := rules.Evaluate(rule, rules.EvalInput{JurisdictionCode: "IL", Expenses: reversed(items)})

			return a.QualifiedSpendTotal.Equal(b.QualifiedSpendTotal) &&
				a.BenefitAmount.Equal(b.BenefitAmount) &&
				a.Eligible == b.Eligible
		},
		gen.SliceOf(genExpense()),
		gen.IntRange(0, 100),
		gen.Int64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}

// TestEvaluateCapBound verifies the benefit never exceeds the cap and the flag tracks clamping.
// Property: benefit <= cap, and CAPPED_MAX_BENEFIT iff rate*total > cap
func TestEvaluateCapBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("benefit is bounded by max_benefit", prop.ForAll(
		func(items []rules.ExpenseItem, ratePct int, capCents int64) bool {
			rule := propertyRule(ratePct, capCents, 0, true)
			result := rules.Evaluate(rule, rules.EvalInput{JurisdictionCode: "IL", Expenses: items})

			maxBenefit := rule.Calculation.Caps.MaxBenefit.Decimal
			raw := result.QualifiedSpendTotal.Mul(rule.Calculation.Rate)

			if result.BenefitAmount.GreaterThan(maxBenefit) {
				return false
			}
			return result.HasFlag(rules.FlagCappedMaxBenefit) == raw.GreaterThan(maxBenefit)
		},
		gen.SliceOf(genExpense()),
		gen.IntRange(0, 100),
		gen.Int64Range(1, 2_000_000),
	))

	properties.TestingRun(t)
}

// TestEvaluateGatingConsistency verifies gating flags and eligibility agree.
// Property: a gating flag is present iff the result is ineligible, and then benefit == 0
func TestEvaluateGatingConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("gating flags imply zero benefit", prop.ForAll(
		func(items []rules.ExpenseItem, minCents int64, active bool, codeIdx int) bool {
			code := []string{"IL", "il", " IL", "ZZ"}[codeIdx]
			rule := propertyRule(30, 0, minCents, false)
			rule.Active = active
			result := rules.Evaluate(rule, rules.EvalInput{JurisdictionCode: code, Expenses: items})

			_, gated := result.GatingFlag()
			if gated != !result.Eligible {
				return false
			}
			if gated && !result.BenefitAmount.IsZero() {
				return false
			}
			return !result.QualifiedSpendTotal.IsNegative()
		},
		gen.SliceOf(genExpense()),
		gen.Int64Range(0, 10_000_000),
		gen.Bool(),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

// TestEvaluateQualifiedSpendBound verifies filtering only ever removes spend.
// Property: 0 <= qualified spend <= sum(amounts)
func TestEvaluateQualifiedSpendBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("qualified spend never exceeds submitted spend", prop.ForAll(
		func(items []rules.ExpenseItem, inState bool) bool {
			rule := propertyRule(25, 0, 0, inState)
			result := rules.Evaluate(rule, rules.EvalInput{JurisdictionCode: "IL", Expenses: items})

			sum := decimal.Zero
			for _, item := range items {
				sum = sum.Add(item.Amount)
			}
			return !result.QualifiedSpendTotal.IsNegative() && result.QualifiedSpendTotal.LessThanOrEqual(sum)
		},
		gen.SliceOf(genExpense()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestEvaluateDeterminism verifies evaluation is a pure function of its inputs.
// Property: json(Evaluate(r, x)) == json(Evaluate(r, x))
func TestEvaluateDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated evaluation serializes identically", prop.ForAll(
		func(items []rules.ExpenseItem, ratePct int, capCents int64) bool {
			rule := propertyRule(ratePct, capCents, 0, true)
			in := rules.EvalInput{JurisdictionCode: "IL", Expenses: items}

			first, err1 := json.Marshal(rules.Evaluate(rule, in))
			second, err2 := json.Marshal(rules.Evaluate(rule, in))
			if err1 != nil || err2 != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.SliceOf(genExpense()),
		gen.IntRange(0, 100),
		gen.Int64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}
