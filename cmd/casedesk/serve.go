package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/gateway"
	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/session"
	"github.com/rahul/casedesk/internal/store"
	"github.com/rahul/casedesk/pkg/config"
)

func newServeCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts.ConfigPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	tgCfg, ok := cfg.GetTelegramConfig()
	if !ok {
		return errors.New("telegram gateway is not enabled")
	}

	observability.PrintBanner()
	observability.InitializeTerminal()
	defer observability.CleanupTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	logger := observability.NewLogger(cfg.App.LogsDir)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	d, err := newDesk(cfg, llm, logger, metrics)
	if err != nil {
		return err
	}

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		return err
	}
	defer history.Close()
	if cfg.Memory.Retention > 0 {
		if n, err := history.Prune(cfg.Memory.Retention); err != nil {
			log.Printf("casedesk: prune history: %v", err)
		} else if n > 0 {
			log.Printf("casedesk: pruned %d audit messages", n)
		}
	}

	machine, err := session.NewMachine(session.MachineOpts{
		Cases:   d.service,
		Subs:    history,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	tg, err := gateway.NewTelegramGateway(tgCfg.Token)
	if err != nil {
		return err
	}
	tg.History = history
	dispatcher := gateway.NewDispatcher(gateway.DispatcherOpts{
		Handler:     machine,
		Deliver:     tg.Deliver,
		IdleTimeout: cfg.Limits.IdleWorkerTimeout,
	})
	tg.Dispatcher = dispatcher

	var digest *agent.DigestScheduler
	if cfg.Digest.Enabled {
		digest, err = agent.NewDigestScheduler(cfg.Digest.Schedule, d.service, history, tg)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := tg.Start(ctx); err != nil {
			log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
			return err
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(ctx) })

	if digest != nil {
		g.Go(func() error { return digest.Start(ctx) })
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, reg) })
	}
	g.Go(func() error {
		dashboard(ctx, logger, func() observability.Gauges {
			return observability.Gauges{Sessions: machine.Store().Len(), Workers: dispatcher.Workers()}
		})
		return nil
	})

	err = g.Wait()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return err
}

// dashboard refreshes the live status line every second and records a
// heartbeat every 30 seconds.
func dashboard(ctx context.Context, logger *observability.Logger, gauges func() observability.Gauges) {
	status := time.NewTicker(1 * time.Second)
	defer status.Stop()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-status.C:
			observability.PrintLiveStatus(gauges())
		case <-heartbeat.C:
			observability.Heartbeat()
			logger.LogHeartbeat()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Printf("casedesk: metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
