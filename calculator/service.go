// Package calculator is the request layer around the rule evaluator. It
// validates requests, resolves the jurisdiction's rule, evaluates it and
// shapes the result into the public output contract.
package calculator

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks RuleSource,RuleInvalidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/calculator/metrics"
	"github.com/liamcoop/incentives/registry"
	"github.com/liamcoop/incentives/rules"
)

// DefaultCompareConcurrency bounds concurrent evaluations in Compare.
const DefaultCompareConcurrency = 4

// RuleSource resolves jurisdiction codes to rules. rules.RuleStore and
// rules.CachedRuleStore both satisfy it.
type RuleSource interface {
	Get(ctx context.Context, code string) (*rules.RuleDefinition, error)
	ListCodes(ctx context.Context) ([]string, error)
}

// RuleInvalidator drops cached rules so the next lookup re-resolves them.
type RuleInvalidator interface {
	Invalidate(ctx context.Context, code string) error
	InvalidateAll(ctx context.Context) error
}

// Service evaluates incentive requests.
type Service struct {
	source             RuleSource
	invalidator        RuleInvalidator
	metrics            *metrics.Metrics
	logger             *slog.Logger
	now                func() time.Time
	newID              func() string
	compareConcurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables evaluation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithInvalidator sets the cache invalidation target. When omitted, the
// source is used if it implements RuleInvalidator.
func WithInvalidator(inv RuleInvalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// WithCompareConcurrency bounds concurrent evaluations in Compare.
func WithCompareConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.compareConcurrency = n
		}
	}
}

// WithClock overrides the time source used for verbose meta.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service resolving rules from source.
func New(source RuleSource, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("rule source is required")
	}

	s := &Service{
		source:             source,
		logger:             slog.Default(),
		now:                time.Now,
		newID:              uuid.NewString,
		compareConcurrency: DefaultCompareConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.invalidator == nil {
		if inv, ok := source.(RuleInvalidator); ok {
			s.invalidator = inv
		}
	}
	return s, nil
}

// Calculate validates req, resolves the jurisdiction's rule and evaluates it.
//
// Unknown jurisdictions return an error matching registry.ErrNotFound,
// malformed requests a *ValidationError. Ineligible outcomes are not
// errors; they are reported in the response.
func (s *Service) Calculate(ctx context.Context, req Request) (*Response, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	return s.calculate(ctx, req)
}

func (s *Service) calculate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	evaluatedAt := s.now().UTC()
	code := registry.NormalizeCode(req.JurisdictionCode)

	rule, err := s.source.Get(ctx, code)
	if err != nil {
		reason := resolutionReason(err)
		s.metrics.IncrementResolutionFailure(reason)
		s.logger.DebugContext(ctx, "rule resolution failed",
			"jurisdiction_code", code,
			"reason", reason,
			"error", err,
		)
		if errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve rule for %s: %w", code, err)
	}

	result := rules.Evaluate(rule, rules.EvalInput{
		JurisdictionCode:    code,
		ProductionStartDate: strings.TrimSpace(req.ProductionStartDate),
		Expenses:            req.Expenses,
	})
	elapsed := time.Since(start)

	resp := newResponse(code, rule, result)
	outcome := outcomeLabel(result)
	s.metrics.IncrementEvaluation(code, outcome)
	s.metrics.ObserveEvaluationLatency(elapsed)

	if req.Verbose {
		resp.Details = s.details(ctx, rule, result, evaluatedAt, elapsed)
	}

	s.logger.DebugContext(ctx, "incentive evaluated",
		"jurisdiction_code", code,
		"rule_id", rule.ID,
		"outcome", outcome,
		"benefit", result.BenefitAmount.String(),
	)
	return resp, nil
}

func newResponse(code string, rule *rules.RuleDefinition, result rules.EvalResult) *Response {
	item := BreakdownItem{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		RuleType:      RuleTypeRate,
		EligibleSpend: result.QualifiedSpendTotal,
		Rate:          rule.Calculation.Rate,
		RawAmount:     decimal.Zero,
		AppliedAmount: result.BenefitAmount,
		Capped:        result.HasFlag(rules.FlagCappedMaxBenefit),
	}
	if rule.Calculation.Caps.MaxBenefit.Valid {
		capAmount := rule.Calculation.Caps.MaxBenefit.Decimal
		item.CapAmount = &capAmount
	}
	if result.Eligible {
		item.RawAmount = result.QualifiedSpendTotal.Mul(rule.Calculation.Rate)
	}
	if flag, gated := result.GatingFlag(); gated {
		item.Skipped = true
		item.SkipReason = string(flag)
	}

	return &Response{
		JurisdictionCode:     code,
		Eligible:             result.Eligible,
		TotalEligibleSpend:   result.QualifiedSpendTotal,
		TotalIncentiveAmount: result.BenefitAmount,
		Breakdown:            []BreakdownItem{item},
	}
}

func (s *Service) details(ctx context.Context, rule *rules.RuleDefinition, result rules.EvalResult, evaluatedAt time.Time, elapsed time.Duration) *Details {
	digest, err := rule.Digest()
	if err != nil {
		s.logger.WarnContext(ctx, "rule digest unavailable", "rule_id", rule.ID, "error", err)
	}

	return &Details{
		ComplianceFlags: result.ComplianceFlags,
		Trace:           result.Trace,
		Warnings:        warnings(rule, result),
		Meta: Meta{
			EvaluationID: s.newID(),
			RuleID:       rule.ID,
			RuleVersion:  rule.Version,
			RuleDigest:   digest,
			EvaluatedAt:  evaluatedAt,
			Duration:     elapsed.String(),
		},
	}
}

// warnings renders the informational flags as text for people reading the response.
func warnings(rule *rules.RuleDefinition, result rules.EvalResult) []string {
	out := []string{}
	for _, flag := range result.ComplianceFlags {
		switch flag {
		case rules.FlagBaseFallback:
			out = append(out, fmt.Sprintf("calculation base %q is not supported; %s was used instead",
				rule.Calculation.Base, rules.BaseQualifiedSpendTotal))
		case rules.FlagCappedMaxBenefit:
			out = append(out, fmt.Sprintf("benefit was capped at the program maximum of %s",
				rule.Calculation.Caps.MaxBenefit.Decimal.String()))
		}
	}
	return out
}

func outcomeLabel(result rules.EvalResult) string {
	if flag, gated := result.GatingFlag(); gated {
		return strings.ToLower(string(flag))
	}
	return "eligible"
}

func resolutionReason(err error) string {
	var docErr *rules.DocumentError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.As(err, &docErr):
		return "invalid_rule"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "backend_error"
	}
}

// Jurisdictions lists the codes that have a rule.
func (s *Service) Jurisdictions(ctx context.Context) ([]string, error) {
	codes, err := s.source.ListCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	return codes, nil
}

// Rule returns the current rule for code.
func (s *Service) Rule(ctx context.Context, code string) (*rules.RuleDefinition, error) {
	verr := &ValidationError{}
	if !validateCode(verr, "jurisdictionCode", code) {
		return nil, verr
	}
	return s.source.Get(ctx, registry.NormalizeCode(code))
}

// CachingEnabled reports whether InvalidateRules has anything to drop.
func (s *Service) CachingEnabled() bool {
	return s.invalidator != nil
}

// InvalidateRules drops the cached rule for code, or every cached rule when
// code is blank. It is a no-op without a cache.
func (s *Service) InvalidateRules(ctx context.Context, code string) error {
	if s.invalidator == nil {
		return nil
	}

	normalized := registry.NormalizeCode(code)
	if normalized == "" {
		if err := s.invalidator.InvalidateAll(ctx); err != nil {
			return fmt.Errorf("failed to invalidate rules: %w", err)
		}
		s.logger.InfoContext(ctx, "rule cache cleared")
		return nil
	}

	if err := s.invalidator.Invalidate(ctx, normalized); err != nil {
		return fmt.Errorf("failed to invalidate rule %s: %w", normalized, err)
	}
	s.logger.InfoContext(ctx, "rule cache entry invalidated", "jurisdiction_code", normalized)
	return nil
}
