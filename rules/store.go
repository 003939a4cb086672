package rules

import (
	"context"
	"fmt"

	"github.com/liamcoop/incentives/registry"
)

// RuleStore resolves jurisdiction codes to rule definitions.
// Implementations return an error matching registry.ErrNotFound for codes
// without a rule, and must re-read their backing store on every Get unless
// wrapped in a CachedRuleStore.
type RuleStore interface {
	// Get loads and parses the rule for code
	Get(ctx context.Context, code string) (*RuleDefinition, error)

	// ListCodes returns the sorted codes that have a rule
	ListCodes(ctx context.Context) ([]string, error)
}

// FileRuleStore reads rule documents from a registry directory.
type FileRuleStore struct {
	registry *registry.Registry
}

// NewFileRuleStore creates a store backed by reg.
func NewFileRuleStore(reg *registry.Registry) *FileRuleStore {
	return &FileRuleStore{registry: reg}
}

// Registry returns the underlying registry.
func (s *FileRuleStore) Registry() *registry.Registry {
	return s.registry
}

// Get resolves code through the registry and parses the document.
func (s *FileRuleStore) Get(ctx context.Context, code string) (*RuleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := s.registry.GetResource(code)
	if err != nil {
		return nil, err
	}

	data, err := res.Read()
	if err != nil {
		return nil, err
	}

	rule, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", res.Path, err)
	}
	return rule, nil
}

// ListCodes lists the codes available in the registry.
func (s *FileRuleStore) ListCodes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.registry.ListAvailableCodes()
}
