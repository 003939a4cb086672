package calculator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/liamcoop/incentives/registry"
	"github.com/liamcoop/incentives/rules"
)

const (
	// MaxCodeLength is the longest jurisdiction code accepted.
	MaxCodeLength = 10

	// MaxExpenses caps the line items in one request.
	MaxExpenses = 10000

	// MaxCompareCodes caps the jurisdictions in one compare request.
	MaxCompareCodes = 25
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every invalid field in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validate checks the request shape before any rule is resolved.
// Amounts that are not numbers never get this far; they fail JSON decoding.
func Validate(req Request) error {
	verr := &ValidationError{}
	validateCode(verr, "jurisdictionCode", req.JurisdictionCode)
	validateContext(verr, req.ProductionStartDate, req.Expenses)
	return verr.orNil()
}

// ValidateCompare checks a compare request. Codes that normalize to the
// same value are rejected as duplicates.
func ValidateCompare(req CompareRequest) error {
	verr := &ValidationError{}

	switch n := len(req.JurisdictionCodes); {
	case n == 0:
		verr.add("jurisdictionCodes", "at least one jurisdiction code is required")
	case n > MaxCompareCodes:
		verr.add("jurisdictionCodes", "%d codes requested, maximum allowed is %d", n, MaxCompareCodes)
	}

	seen := make(map[string]int, len(req.JurisdictionCodes))
	for i, code := range req.JurisdictionCodes {
		field := fmt.Sprintf("jurisdictionCodes[%d]", i)
		if !validateCode(verr, field, code) {
			continue
		}
		normalized := registry.NormalizeCode(code)
		if first, dup := seen[normalized]; dup {
			verr.add(field, "duplicate of jurisdictionCodes[%d] (%s)", first, normalized)
			continue
		}
		seen[normalized] = i
	}

	validateContext(verr, req.ProductionStartDate, req.Expenses)
	return verr.orNil()
}

func validateCode(verr *ValidationError, field, code string) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		verr.add(field, "is required")
		return false
	}
	if len(trimmed) > MaxCodeLength {
		verr.add(field, "length %d exceeds maximum of %d characters", len(trimmed), MaxCodeLength)
		return false
	}
	if !codePattern.MatchString(trimmed) {
		verr.add(field, "must contain only letters, digits, underscores or hyphens")
		return false
	}
	return true
}

func validateContext(verr *ValidationError, startDate string, expenses []rules.ExpenseItem) {
	if date := strings.TrimSpace(startDate); date != "" {
		if _, err := time.Parse(rules.DateLayout, date); err != nil {
			verr.add("productionStartDate", "must be a calendar date in YYYY-MM-DD format")
		}
	}

	if len(expenses) > MaxExpenses {
		verr.add("expenses", "%d items submitted, maximum allowed is %d", len(expenses), MaxExpenses)
		return
	}

	for i, item := range expenses {
		if strings.TrimSpace(item.Category) == "" {
			verr.add(fmt.Sprintf("expenses[%d].category", i), "is required")
		}
		if item.Amount.IsNegative() {
			verr.add(fmt.Sprintf("expenses[%d].amount", i), "must not be negative")
		}
	}
}
