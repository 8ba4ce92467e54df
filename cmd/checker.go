package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ArCaneSec/watcher/internal/config"
	"github.com/ArCaneSec/watcher/internal/jobs"
	"github.com/ArCaneSec/watcher/internal/notifs"
	"github.com/ArCaneSec/watcher/internal/reload"
	"github.com/ArCaneSec/watcher/internal/server"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var checkerCmd = &cobra.Command{
	Use:   "checker",
	Short: "Run the scheduler and the checker API",
	RunE:  runChecker,
}

func init() {
	rootCmd.AddCommand(checkerCmd)
}

func runChecker(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched, err := jobs.NewScheduler(st,
		jobs.WithRegistry(reg),
		jobs.WithNotifier(notifs.NewNotif(cfg.DiscordWebhook)),
		jobs.WithMaxConcurrentPolls(cfg.MaxConcurrentPolls),
		jobs.WithPoller(jobs.NewPoller(jobs.WithUserAgent("watcher/"+config.Version))),
	)
	if err != nil {
		return err
	}

	if err := sched.Start(); err != nil {
		return err
	}
	if err := sched.Reconcile(ctx); err != nil {
		log.Warn("Initial reconcile failed, retrying on the next cadence.", "err", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.CheckerAddr,
		Handler: server.New(sched, reg).Router(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx, httpServer, cfg.ShutdownGrace)
	})

	g.Go(func() error {
		if _, err := sched.RunAllOnce(gctx); err != nil && gctx.Err() == nil {
			log.Error("Startup check of all targets failed.", "err", err)
		}
		return nil
	})

	if cfg.RedisURL != "" {
		client, err := reload.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis reload subscription disabled.", "err", err)
		} else {
			defer client.Close()
			g.Go(func() error {
				reload.Subscribe(gctx, client, sched.Reload)
				return nil
			})
		}
	}

	err = g.Wait()

	if stopErr := sched.Stop(); stopErr != nil {
		log.Warn("Scheduler did not stop cleanly.", "err", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Checker is going to sleep, cya!")
	return nil
}
