package calculator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Compare evaluates the same expenses against every requested jurisdiction.
// Evaluations run concurrently up to the configured limit. Results keep the
// request order. Any failure, including an unknown code, fails the whole
// compare.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*CompareResponse, error) {
	if err := ValidateCompare(req); err != nil {
		return nil, err
	}

	results := make([]*Response, len(req.JurisdictionCodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.compareConcurrency)

	for i, code := range req.JurisdictionCodes {
		g.Go(func() error {
			resp, err := s.calculate(gctx, Request{
				JurisdictionCode:    code,
				ProductionStartDate: req.ProductionStartDate,
				Expenses:            req.Expenses,
				Verbose:             req.Verbose,
			})
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &CompareResponse{Results: results}
	if best, ok := BestOffer(results); ok {
		out.Best = best.JurisdictionCode
	}
	return out, nil
}

// BestOffer returns the response with the highest incentive amount. Ties go
// to the earlier response.
func BestOffer(results []*Response) (*Response, bool) {
	var best *Response
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || r.TotalIncentiveAmount.GreaterThan(best.TotalIncentiveAmount) {
			best = r
		}
	}
	return best, best != nil
}
