package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds the work a single filter evaluation may do.
const expressionCostLimit = 1000000

// Expression is a compiled CEL predicate over one expense. The program is
// immutable after compilation and safe for concurrent evaluation.
type Expression struct {
	Source  string
	program cel.Program
}

// expenseEnv declares the single `expense` variable visible to filters.
// Its fields are category, amount, qualified, in_state, labor and resident.
var expenseEnv = sync.OnceValues(func() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("expense", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
})

// CompileExpression compiles a filter expression. Syntax and type errors
// are returned with CEL's issue text.
func CompileExpression(source string) (*Expression, error) {
	env, err := expenseEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Expression{Source: source, program: prog}, nil
}

// Matches evaluates the predicate for item. Non-boolean results are false.
func (x *Expression) Matches(item ExpenseItem) (bool, error) {
	out, _, err := x.program.Eval(map[string]any{
		"expense": expenseActivation(item),
	})
	if err != nil {
		return false, err
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// expenseActivation exposes an expense to CEL. The amount is a double: filters
// only compare, they never feed the benefit arithmetic.
func expenseActivation(item ExpenseItem) map[string]any {
	return map[string]any{
		"category":  strings.ToLower(item.Category),
		"amount":    item.Amount.InexactFloat64(),
		"qualified": item.IsQualified(),
		"in_state":  item.IsInState(),
		"labor":     item.IsLabor(),
		"resident":  item.IsResident(),
	}
}
