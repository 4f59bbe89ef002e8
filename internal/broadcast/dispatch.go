package broadcast

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"newswire/internal/delivery"
	"newswire/internal/ledger"
	"newswire/internal/news"
	"newswire/pkg/logx"
)

// dispatch fans out delivery attempts with bounded concurrency and records
// each endpoint's terminal state. It returns only after every endpoint has
// settled; worker errors never abort the group.
func (s *Service) dispatch(ctx context.Context, item news.Item, endpoints []string, res *resultSet) {
	if len(endpoints) == 0 {
		return
	}
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.MaxInFlight)
	for _, endpoint := range endpoints {
		endpoint := endpoint
		g.Go(func() error {
			res.add(s.deliverOne(ctx, item, endpoint))
			return nil
		})
	}
	_ = g.Wait()
}

// deliverOne drives a single endpoint to a terminal state.
func (s *Service) deliverOne(ctx context.Context, item news.Item, endpoint string) EndpointResult {
	key := item.ID + "|" + endpoint

	for {
		slot, owner := s.acquirePair(key)
		if owner {
			defer s.releasePair(key)
			break
		}
		// Another broadcast is delivering this exact pair right now. Wait it
		// out, then let the ledger decide.
		select {
		case <-slot.wait():
		case <-ctx.Done():
			return EndpointResult{EndpointID: endpoint, Status: StatusFailed, Error: ctx.Err().Error()}
		}
		delivered, err := s.ledger.Delivered(ctx, item.ID, endpoint)
		if err != nil {
			return EndpointResult{EndpointID: endpoint, Status: StatusFailed, Error: err.Error()}
		}
		if delivered {
			return EndpointResult{EndpointID: endpoint, Status: StatusSkipped}
		}
		// The other attempt failed; take our own shot.
	}

	// Recheck the ledger while holding the pair: subscription data or the
	// candidate set may be stale by now (retries, operator re-broadcast).
	delivered, err := s.ledger.Delivered(ctx, item.ID, endpoint)
	if err != nil {
		return EndpointResult{EndpointID: endpoint, Status: StatusFailed, Error: err.Error()}
	}
	if delivered {
		return EndpointResult{EndpointID: endpoint, Status: StatusSkipped}
	}

	ref, attempts, err := s.sendWithRetry(ctx, endpoint, item)
	if err != nil {
		if delivery.IsPermanent(err) {
			// Append the permanent failure so operators can see it; only
			// delivered records suppress a future re-broadcast.
			if _, lerr := s.ledger.InsertIfAbsent(ctx, ledger.Record{
				ItemID:     item.ID,
				EndpointID: endpoint,
				Status:     ledger.StatusFailedPermanent,
			}); lerr != nil {
				s.log.Warn("failed-permanent record not written",
					logx.String("item", item.ID), logx.String("endpoint", endpoint), logx.Err(lerr))
			}
		}
		s.log.Warn("delivery failed",
			logx.String("item", item.ID),
			logx.String("endpoint", endpoint),
			logx.Int("attempts", attempts),
			logx.Err(err))
		return EndpointResult{EndpointID: endpoint, Status: StatusFailed, Attempts: attempts, Error: err.Error()}
	}

	// Record before reporting the attempt complete. If this write fails the
	// endpoint is reported failed even though the message went out: a retry
	// may re-deliver, which is the documented at-least-once boundary.
	if _, err := s.ledger.InsertIfAbsent(ctx, ledger.Record{
		ItemID:     item.ID,
		EndpointID: endpoint,
		Status:     ledger.StatusDelivered,
		MessageRef: ref,
		RecordedAt: time.Now().UTC(),
	}); err != nil {
		s.log.Error("delivered but ledger write failed",
			logx.String("item", item.ID),
			logx.String("endpoint", endpoint),
			logx.Err(err))
		return EndpointResult{EndpointID: endpoint, Status: StatusFailed, Attempts: attempts, Error: err.Error()}
	}

	return EndpointResult{EndpointID: endpoint, Status: StatusDelivered, Attempts: attempts}
}

// sendWithRetry attempts delivery with exponential backoff on transient
// failures. A retry-after hint from the platform overrides the schedule.
func (s *Service) sendWithRetry(ctx context.Context, endpoint string, item news.Item) (ref string, attempts int, err error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryBase
	bo.MaxInterval = s.cfg.RetryMaxDelay
	bo.Reset()

	var last error
	for attempts = 1; ; attempts++ {
		if werr := s.limiter.Wait(ctx); werr != nil {
			return "", attempts - 1, werr
		}
		ref, last = s.client.Send(ctx, endpoint, item)
		if last == nil {
			return ref, attempts, nil
		}
		if delivery.IsPermanent(last) || attempts > s.cfg.RetryMax {
			return "", attempts, last
		}

		delay := bo.NextBackOff()
		if ra, ok := delivery.RetryAfter(last); ok {
			delay = ra
		}
		s.log.Debug("delivery retry scheduled",
			logx.String("item", item.ID),
			logx.String("endpoint", endpoint),
			logx.Int("attempt", attempts+1),
			logx.Duration("delay", delay),
			logx.Err(last))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return "", attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

// pairSlot is the in-process claim on one (item, endpoint) pair.
type pairSlot struct {
	done chan struct{}
}

func (p pairSlot) wait() <-chan struct{} { return p.done }

// acquirePair claims the pair or returns the current owner's slot to wait on.
func (s *Service) acquirePair(key string) (pairSlot, bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if ch, ok := s.inflight[key]; ok {
		return pairSlot{done: ch}, false
	}
	ch := make(chan struct{})
	s.inflight[key] = ch
	return pairSlot{done: ch}, true
}

func (s *Service) releasePair(key string) {
	s.inflightMu.Lock()
	ch, ok := s.inflight[key]
	if ok {
		delete(s.inflight, key)
	}
	s.inflightMu.Unlock()
	if ok {
		close(ch)
	}
}
