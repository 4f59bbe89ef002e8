package broadcast

import (
	"context"

	"newswire/pkg/logx"
)

// filterDelivered consults the ledger for each candidate and splits them
// into endpoints still needing delivery and endpoints already settled
// (skipped, or failed closed when the ledger could not be read).
//
// Lookups are per-pair on purpose: no check may be skipped, and an
// unreadable ledger must never be treated as "not yet delivered".
func (s *Service) filterDelivered(ctx context.Context, itemID string, candidates []string) (pending []string, settled []EndpointResult) {
	for _, endpoint := range candidates {
		delivered, err := s.ledger.Delivered(ctx, itemID, endpoint)
		switch {
		case err != nil:
			// Fail closed: without ledger state a send could double-deliver.
			s.log.Error("ledger check failed; endpoint skipped",
				logx.String("item", itemID),
				logx.String("endpoint", endpoint),
				logx.Err(err))
			settled = append(settled, EndpointResult{
				EndpointID: endpoint,
				Status:     StatusFailed,
				Error:      err.Error(),
			})
		case delivered:
			settled = append(settled, EndpointResult{
				EndpointID: endpoint,
				Status:     StatusSkipped,
			})
		default:
			pending = append(pending, endpoint)
		}
	}
	return pending, settled
}
