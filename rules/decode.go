package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/registry"
)

//go:embed schema/rule.schema.json
var ruleSchemaJSON []byte

const ruleSchemaURL = "https://incentives.liamcoop.dev/schemas/rule.schema.json"

var ruleSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(ruleSchemaURL, bytes.NewReader(ruleSchemaJSON)); err != nil {
		return nil, fmt.Errorf("rule schema load failed: %w", err)
	}
	compiled, err := c.Compile(ruleSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("rule schema compile failed: %w", err)
	}
	return compiled, nil
})

// DocumentError reports a rule document that failed validation or decoding.
type DocumentError struct {
	Reason string
	Err    error
}

func (e *DocumentError) Error() string {
	if e.Err == nil {
		return "invalid rule document: " + e.Reason
	}
	return fmt.Sprintf("invalid rule document: %s: %v", e.Reason, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// ruleDocument mirrors the on-disk JSON. Pointers and NullDecimal mark
// fields whose absence selects a documented default.
type ruleDocument struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Version          string  `json:"version"`
	JurisdictionCode string  `json:"jurisdiction_code"`
	Active           *bool   `json:"active"`
	EffectiveFrom    *string `json:"effective_from"`
	EffectiveTo      *string `json:"effective_to"`
	Eligibility      struct {
		MinQualifiedSpend      decimal.NullDecimal `json:"min_qualified_spend"`
		QualifiedCategories    []string            `json:"qualified_categories"`
		ExcludeCategories      []string            `json:"exclude_categories"`
		InStateRequired        bool                `json:"in_state_required"`
		LaborResidencyRequired bool                `json:"labor_residency_required"`
		ExpenseFilter          string              `json:"expense_filter"`
	} `json:"eligibility"`
	Calculation struct {
		Rate decimal.NullDecimal `json:"rate"`
		Base string              `json:"base"`
		Caps *struct {
			MaxBenefit decimal.NullDecimal `json:"max_benefit"`
		} `json:"caps"`
	} `json:"calculation"`
}

// Parse validates a rule document against the rule schema and decodes it
// into a RuleDefinition.
//
// Defaults for absent fields: active is true, min_qualified_spend is zero (no
// gate), category sets are empty, boolean requirements are false, rate is
// zero, base is qualified_spend_total, max_benefit is unset, id is
// "<code>-incentive" and name is the code.
func Parse(data []byte) (*RuleDefinition, error) {
	schema, err := ruleSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, &DocumentError{Reason: "malformed JSON", Err: err}
	}
	if err := schema.Validate(instance); err != nil {
		return nil, &DocumentError{Reason: "schema validation failed", Err: err}
	}

	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DocumentError{Reason: "decode failed", Err: err}
	}

	code := registry.NormalizeCode(doc.JurisdictionCode)
	rule := &RuleDefinition{
		ID:               strings.TrimSpace(doc.ID),
		Name:             strings.TrimSpace(doc.Name),
		Version:          strings.TrimSpace(doc.Version),
		JurisdictionCode: code,
		Active:           doc.Active == nil || *doc.Active,
		Raw:              append([]byte(nil), data...),
	}
	if rule.ID == "" {
		rule.ID = strings.ToLower(code) + "-incentive"
	}
	if rule.Name == "" {
		rule.Name = code
	}

	if rule.Version != "" {
		if _, err := semver.StrictNewVersion(rule.Version); err != nil {
			return nil, &DocumentError{Reason: fmt.Sprintf("version %q is not semantic", rule.Version), Err: err}
		}
	}

	if rule.EffectiveFrom, err = parseDocumentDate("effective_from", doc.EffectiveFrom); err != nil {
		return nil, err
	}
	if rule.EffectiveTo, err = parseDocumentDate("effective_to", doc.EffectiveTo); err != nil {
		return nil, err
	}
	if rule.EffectiveFrom != nil && rule.EffectiveTo != nil && rule.EffectiveFrom.After(*rule.EffectiveTo) {
		return nil, &DocumentError{Reason: "effective_from is after effective_to"}
	}

	elig := doc.Eligibility
	rule.Eligibility = Eligibility{
		QualifiedCategories:    categorySet(elig.QualifiedCategories),
		ExcludeCategories:      categorySet(elig.ExcludeCategories),
		InStateRequired:        elig.InStateRequired,
		LaborResidencyRequired: elig.LaborResidencyRequired,
	}
	if elig.MinQualifiedSpend.Valid {
		rule.Eligibility.MinQualifiedSpend = elig.MinQualifiedSpend.Decimal
	}
	if filter := strings.TrimSpace(elig.ExpenseFilter); filter != "" {
		expr, err := CompileExpression(filter)
		if err != nil {
			return nil, &DocumentError{Reason: "expense_filter", Err: err}
		}
		rule.Eligibility.ExpenseFilter = expr
	}

	calc := doc.Calculation
	rule.Calculation.Base = strings.TrimSpace(calc.Base)
	if rule.Calculation.Base == "" {
		rule.Calculation.Base = BaseQualifiedSpendTotal
	}
	if calc.Rate.Valid {
		rule.Calculation.Rate = calc.Rate.Decimal
	}
	if calc.Caps != nil {
		rule.Calculation.Caps.MaxBenefit = calc.Caps.MaxBenefit
	}

	return rule, nil
}

func parseDocumentDate(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, *value)
	if err != nil {
		return nil, &DocumentError{Reason: field, Err: err}
	}
	return &t, nil
}

func categorySet(names []string) CategorySet {
	set := make(CategorySet, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return set
}
