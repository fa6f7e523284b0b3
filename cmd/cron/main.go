// Command cron runs the scheduled maintenance tasks: the grid watchdog that
// self-heals drifted ladders and the daily leverage-rate recovery that walks
// risk-reduced strategies back toward full sizing.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gridwire-api/internal/config"
	"gridwire-api/internal/svc"
	"gridwire-api/pkg/grid"
	"gridwire-api/pkg/trading"
)

const (
	recoverInterval = 24 * time.Hour // leverage-rate recovery cadence
	taskTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

var configFile = flag.String("f", "etc/gridwire.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting cron runner...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	serviceCtx := svc.NewServiceContext(*cfg)
	defer serviceCtx.Close()

	watchdogInterval := time.Duration(cfg.Engine.WatchdogIntervalSec) * time.Second
	log.Printf("[main] Intervals: watchdog=%s recovery=%s", watchdogInterval, recoverInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchdog := grid.NewWatchdog(serviceCtx.GridEngine, watchdogInterval)
		watchdog.Run(ctx, func(ctx context.Context) ([]*trading.Strategy, error) {
			return serviceCtx.Repos.Strategies.ListActiveByStyle(ctx, trading.StyleGrid)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRecovery(ctx, serviceCtx)
	}()

	log.Println("[main] Cron runner started. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Cron runner stopped")
}

// runRecovery walks every active strategy one recovery step per day. A failed
// strategy is logged and skipped; the next tick retries it.
func runRecovery(ctx context.Context, serviceCtx *svc.ServiceContext) {
	ticker := time.NewTicker(recoverInterval)
	defer ticker.Stop()

	recoverAll(ctx, serviceCtx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[recovery] Stopping leverage-rate recovery")
			return
		case <-ticker.C:
			recoverAll(ctx, serviceCtx)
		}
	}
}

func recoverAll(parentCtx context.Context, serviceCtx *svc.ServiceContext) {
	if parentCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parentCtx, taskTimeout)
	defer cancel()

	strategies, err := serviceCtx.Repos.Strategies.ListAll(ctx)
	if err != nil {
		log.Printf("[recovery] List strategies failed: %v", err)
		return
	}
	for _, strat := range strategies {
		if strat.Status != trading.StatusActive {
			continue
		}
		if strat.LeverageRate >= 1.0 && strat.ShortLeverageRate >= 1.0 {
			continue
		}
		if err := serviceCtx.Risk.Recover(ctx, strat); err != nil {
			log.Printf("[recovery] Strategy %d (%s): %v", strat.ID, strat.Symbol, err)
			continue
		}
		log.Printf("[recovery] Strategy %d (%s): rates now long=%.4f short=%.4f",
			strat.ID, strat.Symbol, strat.LeverageRate, strat.ShortLeverageRate)
	}
}
