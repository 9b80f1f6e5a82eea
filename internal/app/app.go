// Package app wires ctawatch's services together: config, logging, storage,
// transport, metrics and the watcher itself.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ctawatch/internal/config"
	"ctawatch/internal/feed"
	"ctawatch/internal/metrics"
	"ctawatch/internal/storage"
	"ctawatch/internal/transport/telegram"
	"ctawatch/internal/watcher"
	logx "ctawatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	sender  *telegram.Adapter
	metrics *metrics.Metrics
	watch   *watcher.Service

	runMu     sync.Mutex
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return nil, err
	}
	sender, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	feedTimeout, err := config.ParseDurationField("feed.timeout", cfg.Feed.Timeout)
	if err != nil {
		return nil, err
	}
	client := feed.NewClient(feed.ClientConfig{
		BaseURL: cfg.Feed.BaseURL,
		Timeout: feedTimeout,
	}, logs.Logger().With(logx.String("comp", "feed")))

	m := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Listen:  cfg.Metrics.Listen,
	}, logs.Logger().With(logx.String("comp", "metrics")))

	wcfg, err := watcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	watch := watcher.New(wcfg, client, store, sender, m,
		logs.Logger().With(logx.String("comp", "watcher")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   store,
		sender:  sender,
		metrics: m,
		watch:   watch,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.runCancel != nil {
		a.runMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runMu.Unlock()

	// Config hot reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.metrics.Serve()
	}()

	a.watch.Start(runCtx)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	a.watch.Stop(ctx)
	_ = a.metrics.Shutdown(ctx)
	cancel()
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// applyConfig re-applies the reloadable parts of the config. Storage driver
// and telegram token changes need a restart; they are logged and skipped.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
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

	wcfg, err := watcherConfig(cfg)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	a.watch.Apply(wcfg)
	a.log.Info("config reloaded")
}

func watcherConfig(cfg *config.Config) (watcher.Config, error) {
	interval, err := config.ParseDurationOrDefault("watcher.interval", cfg.Watcher.Interval, 10*time.Second)
	if err != nil {
		return watcher.Config{}, err
	}
	return watcher.Config{
		Enabled:             cfg.Watcher.Enabled,
		Interval:            interval,
		RedistributeChanged: cfg.Watcher.RedistributeChanged,
		RatePerSec:          cfg.Watcher.RatePerSec,
		Feed: feed.Options{
			RouteIDs:      cfg.Feed.RouteIDs,
			ActiveOnly:    cfg.Feed.ActiveOnly,
			Accessibility: cfg.Feed.Accessibility,
			Planned:       cfg.Feed.Planned,
		},
	}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"feed.timeout", cfg.Feed.Timeout},
		{"telegram.send_timeout", cfg.Telegram.SendTimeout},
		{"watcher.interval", cfg.Watcher.Interval},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
