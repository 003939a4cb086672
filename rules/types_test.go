package rules

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"
)

// TestFlagGating verifies which flags mark an ineligible outcome
func TestFlagGating(t *testing.T) {
	testCases := []struct {
		flag   Flag
		gating bool
	}{
		{FlagRuleInactive, true},
		{FlagJurisdictionMismatch, true},
		{FlagOutsideEffectiveDates, true},
		{FlagBelowMinQualifiedSpend, true},
		{FlagBaseFallback, false},
		{FlagCappedMaxBenefit, false},
	}

	for _, tc := range testCases {
		if got := tc.flag.Gating(); got != tc.gating {
			t.Errorf("%s.Gating() = %v, want %v", tc.flag, got, tc.gating)
		}
	}
}

// TestEvalResultFlags verifies HasFlag and GatingFlag lookups
func TestEvalResultFlags(t *testing.T) {
	result := EvalResult{ComplianceFlags: []Flag{FlagBaseFallback, FlagCappedMaxBenefit}}

	if !result.HasFlag(FlagCappedMaxBenefit) {
		t.Error("HasFlag should find CAPPED_MAX_BENEFIT")
	}
	if result.HasFlag(FlagRuleInactive) {
		t.Error("HasFlag should not find RULE_INACTIVE")
	}
	if _, ok := result.GatingFlag(); ok {
		t.Error("informational flags are not gating")
	}

	result.ComplianceFlags = []Flag{FlagBelowMinQualifiedSpend}
	flag, ok := result.GatingFlag()
	if !ok || flag != FlagBelowMinQualifiedSpend {
		t.Errorf("GatingFlag() = %s, %v", flag, ok)
	}
}

// TestCategorySet verifies membership and listing
func TestCategorySet(t *testing.T) {
	set := NewCategorySet("production", "post")

	if !set.Contains("production") || set.Contains("travel") {
		t.Errorf("unexpected membership in %v", set)
	}

	names := set.Names()
	sort.Strings(names)
	if strings.Join(names, ",") != "post,production" {
		t.Errorf("Names() = %v", names)
	}
}

// TestEvalResultJSON verifies the wire shape of an evaluation result
func TestEvalResultJSON(t *testing.T) {
	rule := mustParse(t, ilRuleDoc)
	result := Evaluate(rule, EvalInput{JurisdictionCode: "IL", Expenses: []ExpenseItem{expense("production", "100")}})

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	for _, key := range []string{"eligible", "benefitAmount", "qualifiedSpendTotal", "complianceFlags", "trace"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if decoded["benefitAmount"] != "30" {
		t.Errorf("benefitAmount = %v, want \"30\"", decoded["benefitAmount"])
	}
	if flags, ok := decoded["complianceFlags"].([]any); !ok || len(flags) != 0 {
		t.Errorf("complianceFlags = %v, want []", decoded["complianceFlags"])
	}
}
