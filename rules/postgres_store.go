package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/liamcoop/incentives/registry"
)

// DefaultRulesTable holds one JSONB rule document per jurisdiction code.
// The table is owned by the rules administration service; this store only reads.
const DefaultRulesTable = "incentive_rules"

// PostgresRuleStore implements RuleStore over rule records in PostgreSQL.
type PostgresRuleStore struct {
	db    *sql.DB
	table string
}

// NewPostgresRuleStore creates a store reading DefaultRulesTable.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:    db,
		table: DefaultRulesTable,
	}
}

// Get loads the rule record for code and parses its definition.
func (s *PostgresRuleStore) Get(ctx context.Context, code string) (*RuleDefinition, error) {
	normalized := registry.NormalizeCode(code)
	if normalized == "" {
		return nil, s.notFound(normalized)
	}

	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition
		FROM `+s.table+`
		WHERE jurisdiction_code = $1
	`, normalized).Scan(&definition)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound(normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	rule, err := Parse(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", normalized, err)
	}
	return rule, nil
}

// ListCodes returns every jurisdiction code with a rule record.
func (s *PostgresRuleStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jurisdiction_code
		FROM `+s.table+`
		ORDER BY jurisdiction_code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule codes: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan rule code: %w", err)
		}
		codes = append(codes, registry.NormalizeCode(code))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule codes: %w", err)
	}

	return codes, nil
}

func (s *PostgresRuleStore) notFound(code string) error {
	return &registry.NotFoundError{Code: code, Root: "postgres table " + s.table}
}
