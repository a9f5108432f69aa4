// Package app wires the fleet engine together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/miner"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/martinsuchenak/asicfleet/internal/storage"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/registry"
)

// HistoryKeep is the number of scans and operations kept by the prune task.
const HistoryKeep = 500

const (
	taskRefresh = "fleet-refresh"
	taskPrune   = "history-prune"
)

// Options select the optional parts of the engine.
type Options struct {
	// History opens the sqlite store under Config.DataDir.
	History bool

	OnScan     func(model.Scan)
	OnProgress func(dispatch.Progress)
	OnGuard    func(worker.Status)
}

// App holds one fully wired engine.
type App struct {
	Config     *config.Config
	Fleet      *fleet.State
	Resolver   *miner.Resolver
	Guard      *worker.Guard
	Session    *session.Controller
	Dispatcher *dispatch.Dispatcher
	Scheduler  *worker.Scheduler

	// Store is nil unless Options.History was set.
	Store storage.Storage
}

// New builds the engine described by cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg.Debug {
		log.SetDebug(true)
	}

	a := &App{
		Config: cfg,
		Fleet:  fleet.New(),
		Guard:  worker.NewGuard(opts.OnGuard),
	}

	if opts.History {
		store, err := storage.NewSQLiteStorage(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.Store = store
		log.Debug("History storage opened", "path", store.Path())
	}

	a.Resolver = miner.NewResolver(miner.Options{
		Retries:     cfg.GetMinerRetries,
		PingRetries: cfg.PingRetries,
		Timeout:     cfg.PingTimeout,
		Passwords:   cfg.Passwords,
		Registry:    registry.GetRegistry(),
	})

	sessOpts := session.Options{
		ScanThreads: cfg.ScanThreads,
		ScanRate:    cfg.ScanRate,
		DataRetries: cfg.GetDataRetries,
		Fields:      cfg.Fields(),
		OnProgress:  opts.OnScan,
	}
	dispOpts := dispatch.Options{
		RefreshThreads: cfg.ScanThreads,
		RebootThreads:  cfg.RebootThreads,
		ConfigThreads:  cfg.ConfigThreads,
		CommandThreads: cfg.CommandThreads,
		DataRetries:    cfg.GetDataRetries,
		Fields:         cfg.Fields(),
		SettleDelay:    cfg.SettleDelay,
		OnProgress:     opts.OnProgress,
	}
	if a.Store != nil {
		sessOpts.Recorder = a.Store
		dispOpts.Recorder = a.Store
	}

	a.Session = session.New(a.Resolver, a.Fleet, a.Guard, sessOpts)
	a.Dispatcher = dispatch.New(a.Resolver, a.Fleet, a.Guard, dispOpts)
	a.Scheduler = worker.NewScheduler()

	return a, nil
}

// Open builds the engine with history enabled and restores the last
// captured fleet, so one-shot commands can target "all known" devices.
func Open(cfg *config.Config, opts Options) (*App, error) {
	opts.History = true
	a, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	if _, err := a.Restore(); err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring fleet: %w", err)
	}
	return a, nil
}

// Restore loads the newest stored snapshot into the fleet. It returns the
// number of records loaded; an empty history is not an error.
func (a *App) Restore() (int, error) {
	if a.Store == nil {
		return 0, nil
	}
	scan, records, err := a.Store.LatestSnapshot()
	if errors.Is(err, storage.ErrScanNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		a.Fleet.Upsert(rec.IP, rec)
	}
	log.Info("Fleet restored from history", "scan_id", scan.ID, "network", scan.Network, "devices", len(records))
	return len(records), nil
}

// StartScheduler registers the background tasks and starts the scheduler.
func (a *App) StartScheduler() error {
	if spec := a.Config.RefreshSchedule; spec != "" {
		if err := a.Scheduler.RegisterTask(taskRefresh, "Refresh fleet data", spec, a.refreshTask); err != nil {
			return err
		}
	}
	if a.Store != nil {
		if err := a.Scheduler.RegisterTask(taskPrune, "Prune history", "@daily", a.pruneTask); err != nil {
			return err
		}
	}
	a.Scheduler.Start()
	return nil
}

func (a *App) refreshTask(ctx context.Context, _ string) error {
	if a.Fleet.Len() == 0 {
		log.Debug("No known devices, skipping refresh")
		return nil
	}
	op, err := a.Dispatcher.Refresh(ctx, nil)
	if err != nil {
		return err
	}
	log.Info("Scheduled refresh finished", "succeeded", op.Succeeded, "failed", op.Failed)
	return nil
}

func (a *App) pruneTask(context.Context, string) error {
	return a.Store.Prune(HistoryKeep)
}

// Close stops background work and releases the history store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	a.Session.Cancel()
	a.Session.Wait(context.Background())
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
