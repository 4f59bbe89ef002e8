package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"newswire/internal/config"
	"newswire/internal/ledger"
	"newswire/internal/news"
	"newswire/pkg/logx"
)

const defaultRetentionSchedule = "0 3 * * *"

// retentionSweeper deletes aged ledger records and archived items on a cron
// schedule. This is the explicit out-of-core retention policy; nothing in
// the broadcast pipeline ever deletes delivery history.
type retentionSweeper struct {
	ledg    *ledger.SQLLedger
	archive *news.Archive
	log     logx.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	maxAge time.Duration
}

func newRetentionSweeper(ledg *ledger.SQLLedger, archive *news.Archive, log logx.Logger) *retentionSweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &retentionSweeper{ledg: ledg, archive: archive, log: log.With(logx.String("comp", "retention"))}
}

// Apply (re)starts the sweeper with the given settings, or stops it when
// disabled.
func (r *retentionSweeper) Apply(cfg config.RetentionConfig) error {
	r.Stop()
	if !cfg.Enabled {
		return nil
	}
	maxAge, err := config.ParseDurationField("retention.max_age", cfg.MaxAge)
	if err != nil {
		return err
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		schedule = defaultRetentionSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, r.sweep); err != nil {
		return err
	}

	r.mu.Lock()
	r.cron = c
	r.maxAge = maxAge
	r.mu.Unlock()

	c.Start()
	r.log.Info("retention enabled",
		logx.String("schedule", schedule),
		logx.Duration("max_age", maxAge))
	return nil
}

func (r *retentionSweeper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (r *retentionSweeper) sweep() {
	r.mu.Lock()
	maxAge := r.maxAge
	r.mu.Unlock()
	if maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-maxAge)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deliveries, err := r.ledg.PruneOlderThan(ctx, cutoff)
	if err != nil {
		r.log.Warn("ledger prune failed", logx.Err(err))
	}
	items, err := r.archive.PruneOlderThan(ctx, cutoff)
	if err != nil {
		r.log.Warn("archive prune failed", logx.Err(err))
	}
	r.log.Info("retention sweep done",
		logx.Int64("deliveries_pruned", deliveries),
		logx.Int64("items_pruned", items),
		logx.Time("cutoff", cutoff))
}
