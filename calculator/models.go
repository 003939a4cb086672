package calculator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/rules"
)

// RuleTypeRate is the only breakdown component a single-rule evaluation produces.
const RuleTypeRate = "rate"

// Request asks for the incentive one jurisdiction offers for a set of expenses.
type Request struct {
	JurisdictionCode    string              `json:"jurisdictionCode"`
	ProductionStartDate string              `json:"productionStartDate,omitempty"`
	Expenses            []rules.ExpenseItem `json:"expenses"`
	Verbose             bool                `json:"verbose,omitempty"`
}

// CompareRequest evaluates the same expenses against several jurisdictions.
type CompareRequest struct {
	JurisdictionCodes   []string            `json:"jurisdictionCodes"`
	ProductionStartDate string              `json:"productionStartDate,omitempty"`
	Expenses            []rules.ExpenseItem `json:"expenses"`
	Verbose             bool                `json:"verbose,omitempty"`
}

// Response is the stable output contract for one evaluation. Details is
// only populated in verbose mode and is flattened into the JSON object.
type Response struct {
	JurisdictionCode     string          `json:"jurisdictionCode"`
	Eligible             bool            `json:"eligible"`
	TotalEligibleSpend   decimal.Decimal `json:"totalEligibleSpend"`
	TotalIncentiveAmount decimal.Decimal `json:"totalIncentiveAmount"`
	Breakdown            []BreakdownItem `json:"breakdown"`

	*Details
}

// BreakdownItem summarizes one rule component of the benefit.
type BreakdownItem struct {
	RuleID        string           `json:"ruleId"`
	RuleName      string           `json:"ruleName"`
	RuleType      string           `json:"ruleType"`
	EligibleSpend decimal.Decimal  `json:"eligibleSpend"`
	Rate          decimal.Decimal  `json:"rate"`
	RawAmount     decimal.Decimal  `json:"rawAmount"`
	AppliedAmount decimal.Decimal  `json:"appliedAmount"`
	Capped        bool             `json:"capped"`
	CapAmount     *decimal.Decimal `json:"capAmount"`
	Skipped       bool             `json:"skipped"`
	SkipReason    string           `json:"skipReason,omitempty"`
}

// Details is the verbose part of a Response.
type Details struct {
	ComplianceFlags []rules.Flag      `json:"complianceFlags"`
	Trace           []rules.TraceStep `json:"trace"`
	Warnings        []string          `json:"warnings"`
	Meta            Meta              `json:"meta"`
}

// Meta identifies one evaluation for audit.
type Meta struct {
	EvaluationID string    `json:"evaluationId"`
	RuleID       string    `json:"ruleId"`
	RuleVersion  string    `json:"ruleVersion,omitempty"`
	RuleDigest   string    `json:"ruleDigest,omitempty"`
	EvaluatedAt  time.Time `json:"evaluatedAt"`
	Duration     string    `json:"duration"`
}

// CompareResponse holds one result per requested code, in request order.
// Best is the code with the highest incentive.
type CompareResponse struct {
	Results []*Response `json:"results"`
	Best    string      `json:"best,omitempty"`
}
