// Package app wires the newswire services together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"newswire/internal/broadcast"
	"newswire/internal/config"
	"newswire/internal/delivery"
	"newswire/internal/delivery/telegram"
	"newswire/internal/ledger"
	"newswire/internal/news"
	"newswire/internal/storage"
	"newswire/internal/subscription"
	"newswire/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	db      *storage.DB
	subs    *subscription.SQLStore
	ledg    *ledger.SQLLedger
	archive *news.Archive
	client  delivery.Client
	bcast   *broadcast.Service

	retention *retentionSweeper

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, logSvc.Logger())
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	apiTimeout, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	if err != nil {
		_ = db.Close()
		_ = logSvc.Close()
		return nil, err
	}
	client, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: apiTimeout}, logSvc.Logger())
	if err != nil {
		_ = db.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bcfg, err := broadcastConfig(cfg.Broadcast)
	if err != nil {
		_ = db.Close()
		_ = logSvc.Close()
		return nil, err
	}

	subs := subscription.NewSQLStore(db, logSvc.Logger())
	ledg := ledger.NewSQLLedger(db, logSvc.Logger())

	a := &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		db:      db,
		subs:    subs,
		ledg:    ledg,
		archive: news.NewArchive(db, logSvc.Logger()),
		client:  client,
		bcast:   broadcast.New(bcfg, subs, ledg, client, logSvc.Logger()),
	}
	a.retention = newRetentionSweeper(a.ledg, a.archive, logSvc.Logger())
	return a, nil
}

// broadcastConfig translates the config section into dispatcher settings.
func broadcastConfig(cfg config.BroadcastConfig) (broadcast.Config, error) {
	retryBase, err := config.ParseDurationField("broadcast.retry_base", cfg.RetryBase)
	if err != nil {
		return broadcast.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("broadcast.retry_max_delay", cfg.RetryMaxDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	b := broadcast.Config{
		MaxInFlight:   cfg.MaxInFlight,
		RetryMax:      -1, // defaulted by the dispatcher unless set explicitly
		RatePerSec:    cfg.RatePerSec,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}
	if cfg.RetryMax != nil {
		b.RetryMax = *cfg.RetryMax
	}
	return b, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyReloads(runCtx)
	}()

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Retention != nil {
		if err := a.retention.Apply(*cfg.Retention); err != nil {
			cancel()
			return err
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("newswire started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}
	a.retention.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	err := a.db.Close()
	a.log.Info("newswire stopped")
	_ = a.logs.Close()
	return err
}

// applyReloads consumes config updates from the watcher. Only logging and
// retention settings apply live; transport and storage changes need a
// restart.
func (a *App) applyReloads(ctx context.Context) {
	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if cfg.Retention != nil {
				if err := a.retention.Apply(*cfg.Retention); err != nil {
					a.log.Warn("retention config rejected", logx.Err(err))
				}
			} else {
				a.retention.Stop()
			}
			a.log.Info("config applied (logging, retention); other sections need a restart")
		}
	}
}

// Publish is the submission boundary: it archives the item (rejecting
// near-duplicates) and invokes the broadcast pipeline exactly once.
func (a *App) Publish(ctx context.Context, title, description, imageURL, credit, reporterID string, tags news.Tags) (broadcast.Outcome, error) {
	item, err := news.NewItem(title, description, imageURL, credit, reporterID, tags)
	if err != nil {
		return broadcast.Outcome{}, err
	}
	if err := a.archive.InsertUnique(ctx, item); err != nil {
		return broadcast.Outcome{}, err
	}
	return a.bcast.Broadcast(ctx, item)
}

// Broadcaster exposes the orchestrator to callers that already hold a
// published item (e.g. an operator-triggered re-broadcast).
func (a *App) Broadcaster() *broadcast.Service { return a.bcast }

// Subscriptions exposes the endpoint administration surface.
func (a *App) Subscriptions() subscription.Store { return a.subs }

// Archive exposes item lookups.
func (a *App) Archive() *news.Archive { return a.archive }
