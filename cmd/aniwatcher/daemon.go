package main

import (
	"context"
	"errors"
	"os"

	"github.com/iskorsukov/aniwatcher/internal/config"
	"github.com/iskorsukov/aniwatcher/internal/hostsched"
	"github.com/iskorsukov/aniwatcher/internal/metrics"
	"github.com/iskorsukov/aniwatcher/internal/scheduler"
	"github.com/iskorsukov/aniwatcher/internal/trigger"
	"github.com/iskorsukov/aniwatcher/pkg/server"
	"golang.org/x/sync/errgroup"
)

func runDaemon(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Init()
	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	sy := buildSyncer(a)
	mgr := buildManager(a.cfg, os.Stdout, a.log)
	if !mgr.HasNotifiers() {
		a.log.Warn("no presenters configured, aired episodes stay pending")
	}
	eng := buildEngine(a, mgr)

	// The host scheduler carries the fallback triggers for as long as the
	// daemon lives, so a stopped loop is still covered.
	hsCtx, hsCancel := context.WithCancel(ctx)
	defer hsCancel()
	hs := hostsched.New(hsCtx, a.log)
	job := trigger.NewPeriodicJob(eng, a.snap, a.log)
	boot := trigger.NewBootReceiver(hs, job, eng, a.snap, trigger.BootOptions{
		PeriodicCron: a.cfg.Fallback.PeriodicCron,
		AlarmDelay:   a.cfg.Fallback.ParseBootAlarmDelay(),
	}, a.log)
	if r := boot.OnBoot(hsCtx); r != trigger.Success {
		return exitWith(r)
	}

	a.snap.OnChange(func(old, cur *config.Config) {
		if cur.Notifications.Enabled && !old.Notifications.Enabled && eng.Start(ctx) {
			a.log.Info("notifications enabled, loop restarted")
		}
	})
	eng.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := scheduler.New(sy, a.cfg.Sync.ParseInterval(), a.cfg.Sync.WindowDays, a.log).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.snap.Watch(gctx, a.log)
	})

	g.Go(func() error {
		srv := server.New(a.db, sy, mgr, server.Options{
			Port:       port,
			WindowDays: a.cfg.Sync.WindowDays,
			Logger:     a.log,
		})
		return srv.ListenAndServe(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		eng.Stop()
		eng.Wait()
		hsCancel()
		hs.Wait()
		return nil
	})

	return g.Wait()
}
