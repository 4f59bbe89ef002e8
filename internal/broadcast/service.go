package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newswire/internal/delivery"
	"newswire/internal/ledger"
	"newswire/internal/news"
	"newswire/internal/subscription"
	"newswire/pkg/logx"
)

// ErrSubscriptionLoad aborts the whole broadcast: without subscription data
// no safe matching is possible.
var ErrSubscriptionLoad = errors.New("subscription load failed")

// Service is the broadcast orchestrator. External callers invoke Broadcast
// (and the best-effort Revise/Retract); the matcher, dedup filter, and
// dispatcher are internal so the ledger invariant cannot be bypassed.
type Service struct {
	cfg     Config
	subs    subscription.Store
	ledger  ledger.Ledger
	client  delivery.Client
	log     logx.Logger
	limiter *rate.Limiter

	// inflight serializes concurrent attempts at the same (item, endpoint)
	// pair within this process; the ledger's unique constraint covers the
	// cross-process window.
	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
}

func New(cfg Config, subs subscription.Store, led ledger.Ledger, client delivery.Client, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		subs:     subs,
		ledger:   led,
		client:   client,
		log:      log.With(logx.String("comp", "broadcast")),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		inflight: make(map[string]chan struct{}),
	}
}

// Broadcast delivers the item to every matching endpoint exactly once.
//
// Per-endpoint failures are contained in the outcome and never surface as
// an error; only a failed subscription load aborts. Cancelling ctx stops
// the wait for the aggregated outcome, not deliveries already in flight:
// those run to a terminal state and still update the ledger.
func (s *Service) Broadcast(ctx context.Context, item news.Item) (Outcome, error) {
	start := time.Now()
	out := Outcome{ItemID: item.ID, StartedAt: start}

	if err := item.Tags.Validate(); err != nil {
		return out, err
	}

	subs, err := s.subs.List(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrSubscriptionLoad, err)
	}

	matched := subscription.Match(item.Tags, subs)
	out.Matched = len(matched)
	s.log.Info("broadcast started",
		logx.String("item", item.ID),
		logx.Stringer("tags", item.Tags),
		logx.Int("matched", len(matched)))

	pending, settled := s.filterDelivered(ctx, item.ID, matched)
	out.Endpoints = append(out.Endpoints, settled...)

	res := &resultSet{}
	done := make(chan struct{})
	// Deliveries are detached from the caller's cancellation on purpose.
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		s.dispatch(sendCtx, item, pending, res)
	}()

	select {
	case <-done:
		out.Endpoints = append(out.Endpoints, res.snapshot()...)
	case <-ctx.Done():
		out.Endpoints = append(out.Endpoints, res.snapshot()...)
		out.Incomplete = true
		out.FinishedAt = time.Now()
		s.log.Warn("broadcast wait cancelled; deliveries continue",
			logx.String("item", item.ID), logx.Err(ctx.Err()))
		return out, ctx.Err()
	}

	out.FinishedAt = time.Now()
	fields := []logx.Field{
		logx.String("item", item.ID),
		logx.Int("matched", out.Matched),
		logx.Int("delivered", out.Delivered()),
		logx.Int("skipped", out.Skipped()),
		logx.Int("failed", out.Failed()),
		logx.Duration("dur", time.Since(start)),
	}
	if out.Failed() > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return out, nil
}

// Revise edits every delivered copy of the item in place. Best-effort: it
// never resends and never touches the ledger. Returns the number of copies
// edited.
func (s *Service) Revise(ctx context.Context, item news.Item) (int, error) {
	recs, err := s.ledger.ByItem(ctx, item.ID)
	if err != nil {
		return 0, err
	}
	var edited int
	for _, rec := range recs {
		if rec.Status != ledger.StatusDelivered || rec.MessageRef == "" {
			continue
		}
		if err := s.client.Edit(ctx, rec.EndpointID, rec.MessageRef, item); err != nil {
			s.log.Warn("revise failed",
				logx.String("item", item.ID),
				logx.String("endpoint", rec.EndpointID),
				logx.Err(err))
			continue
		}
		edited++
	}
	s.log.Info("item revised", logx.String("item", item.ID), logx.Int("edited", edited))
	return edited, nil
}

// Retract deletes every delivered copy of the item. Best-effort, like
// Revise. Ledger records stay: retraction is not un-delivery.
func (s *Service) Retract(ctx context.Context, itemID string) (int, error) {
	recs, err := s.ledger.ByItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, rec := range recs {
		if rec.Status != ledger.StatusDelivered || rec.MessageRef == "" {
			continue
		}
		if err := s.client.Delete(ctx, rec.EndpointID, rec.MessageRef); err != nil {
			s.log.Warn("retract failed",
				logx.String("item", itemID),
				logx.String("endpoint", rec.EndpointID),
				logx.Err(err))
			continue
		}
		removed++
	}
	s.log.Info("item retracted", logx.String("item", itemID), logx.Int("removed", removed))
	return removed, nil
}
