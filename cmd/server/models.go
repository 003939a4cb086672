package main

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/calculator"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/rules"
)

// API Request and Response Models

// InvalidateCacheRequest names the jurisdiction to drop; blank drops all
type InvalidateCacheRequest struct {
	JurisdictionCode string `json:"jurisdictionCode,omitempty" example:"IL"`
}

// JurisdictionsResponse lists the codes with a rule available
type JurisdictionsResponse struct {
	Codes []string `json:"codes" example:"GA,IL,NY"`
}

// RuleSummary is the public view of a jurisdiction's rule
type RuleSummary struct {
	ID               string             `json:"id" example:"il-film-tax-credit"`
	Name             string             `json:"name" example:"Illinois Film Production Tax Credit"`
	Version          string             `json:"version,omitempty" example:"2.1.0"`
	JurisdictionCode string             `json:"jurisdictionCode" example:"IL"`
	Active           bool               `json:"active" example:"true"`
	EffectiveFrom    string             `json:"effectiveFrom,omitempty" example:"2020-01-01"`
	EffectiveTo      string             `json:"effectiveTo,omitempty" example:"2031-12-31"`
	Eligibility      EligibilitySummary `json:"eligibility"`
	Calculation      CalculationSummary `json:"calculation"`
	Digest           string             `json:"digest,omitempty"`
}

// EligibilitySummary mirrors rules.Eligibility with sorted category lists
type EligibilitySummary struct {
	MinQualifiedSpend      decimal.Decimal `json:"minQualifiedSpend"`
	QualifiedCategories    []string        `json:"qualifiedCategories"`
	ExcludeCategories      []string        `json:"excludeCategories"`
	InStateRequired        bool            `json:"inStateRequired"`
	LaborResidencyRequired bool            `json:"laborResidencyRequired"`
	ExpenseFilter          string          `json:"expenseFilter,omitempty" example:"expense.amount > 0.0"`
}

// CalculationSummary mirrors rules.Calculation
type CalculationSummary struct {
	Rate       decimal.Decimal  `json:"rate" example:"0.30"`
	Base       string           `json:"base" example:"qualified_spend_total"`
	MaxBenefit *decimal.Decimal `json:"maxBenefit"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string                  `json:"error" example:"validation_error"`
	Message   string                  `json:"message" example:"request validation failed"`
	Fields    []calculator.FieldError `json:"fields,omitempty"`
	RequestID string                  `json:"requestId,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string                  `json:"status" example:"healthy"`
	Backend       string                  `json:"backend" example:"file"`
	Jurisdictions int                     `json:"jurisdictions"`
	Caching       bool                    `json:"caching"`
	Counters      *logger.CounterSnapshot `json:"counters,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

func newRuleSummary(rule *rules.RuleDefinition) RuleSummary {
	summary := RuleSummary{
		ID:               rule.ID,
		Name:             rule.Name,
		Version:          rule.Version,
		JurisdictionCode: rule.JurisdictionCode,
		Active:           rule.Active,
		Eligibility: EligibilitySummary{
			MinQualifiedSpend:      rule.Eligibility.MinQualifiedSpend,
			QualifiedCategories:    sortedNames(rule.Eligibility.QualifiedCategories),
			ExcludeCategories:      sortedNames(rule.Eligibility.ExcludeCategories),
			InStateRequired:        rule.Eligibility.InStateRequired,
			LaborResidencyRequired: rule.Eligibility.LaborResidencyRequired,
		},
		Calculation: CalculationSummary{
			Rate: rule.Calculation.Rate,
			Base: rule.Calculation.Base,
		},
	}

	if rule.EffectiveFrom != nil {
		summary.EffectiveFrom = rule.EffectiveFrom.Format(rules.DateLayout)
	}
	if rule.EffectiveTo != nil {
		summary.EffectiveTo = rule.EffectiveTo.Format(rules.DateLayout)
	}
	if rule.Eligibility.ExpenseFilter != nil {
		summary.Eligibility.ExpenseFilter = rule.Eligibility.ExpenseFilter.Source
	}
	if rule.Calculation.Caps.MaxBenefit.Valid {
		maxBenefit := rule.Calculation.Caps.MaxBenefit.Decimal
		summary.Calculation.MaxBenefit = &maxBenefit
	}
	if digest, err := rule.Digest(); err == nil {
		summary.Digest = digest
	}
	return summary
}

func sortedNames(set rules.CategorySet) []string {
	names := set.Names()
	sort.Strings(names)
	return names
}
