// Command surveil runs the market-surveillance engine: trade ingestion and
// anomaly detection, the leader-follower discovery pipeline, and the leader
// resolution/near-certainty monitor, all wired against one configuration
// file. Modeled directly on the teacher's cmd/polyoracle/main.go lifecycle:
// flag-parsed config path, construct-with-defer-close resources, a single
// signal-driven context cancellation, and ticker-driven background loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/surveil/smartmoney/internal/alertmanager"
	"github.com/surveil/smartmoney/internal/alertstore"
	"github.com/surveil/smartmoney/internal/anomaly"
	"github.com/surveil/smartmoney/internal/baseline"
	"github.com/surveil/smartmoney/internal/checkpoint"
	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/discovery"
	"github.com/surveil/smartmoney/internal/embedding"
	"github.com/surveil/smartmoney/internal/exchange"
	"github.com/surveil/smartmoney/internal/filter"
	"github.com/surveil/smartmoney/internal/health"
	"github.com/surveil/smartmoney/internal/leadermonitor"
	"github.com/surveil/smartmoney/internal/llm"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/notifier"
	"github.com/surveil/smartmoney/internal/opportunity"
	"github.com/surveil/smartmoney/internal/orchestrator"
	"github.com/surveil/smartmoney/internal/percentile"
	"github.com/surveil/smartmoney/internal/tradestore"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	minTrade := flag.Float64("min-trade", 0, "override anomaly.large_trade_min (0 keeps the config value)")
	minSeverity := flag.String("min-severity", "", "override anomaly.min_severity (empty keeps the config value)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveil: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *minTrade > 0 {
		cfg.Anomaly.LargeTradeMin = *minTrade
	}
	if *minSeverity != "" {
		cfg.Anomaly.MinSeverity = *minSeverity
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "surveil: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, logger.FileConfig{
		Path:       cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	logger.Info("surveil: starting with config %s", *configPath)

	marketsCli := exchange.NewMarketsClient(cfg.Exchange.MarketsAPIURL, cfg.Exchange.Timeout, cfg.Exchange.MaxRetries, cfg.Exchange.RetryDelayBase, cfg.Exchange.RateLimitPerSecond)
	leaderStatusCli := exchange.NewLeaderStatusClient(cfg.Exchange.LeaderStatusAPIURL, cfg.Exchange.Timeout, cfg.Exchange.MaxRetries, cfg.Exchange.RetryDelayBase, cfg.Exchange.RateLimitPerSecond)

	marketFilter, err := filter.New(cfg.Filter)
	if err != nil {
		logger.Fatal("surveil: failed to build market filter: %v", err)
	}

	tradeStore := tradestore.New(cfg.TradeStore.WindowSize, cfg.TradeStore.CleanupEvery)
	baselineCalc := baseline.New(cfg.Baseline.WindowMs, cfg.Baseline.MinSamples)
	percentiles := percentile.NewManager(percentile.Config{
		LowPriceThreshold: cfg.Percentile.LowPriceThreshold,
		P90:               cfg.Percentile.P90,
		P95:               cfg.Percentile.P95,
		P99:               cfg.Percentile.P99,
		MaxSamples:        cfg.Percentile.MaxSamples,
		MinSamples:        cfg.Percentile.MinSamples,
	})
	engine := anomaly.New(cfg.Anomaly, tradeStore, baselineCalc, percentiles)

	var checkpointStore *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		checkpointStore, err = checkpoint.Open(cfg.Checkpoint.DBPath)
		if err != nil {
			logger.Fatal("surveil: failed to open checkpoint store: %v", err)
		}
		defer checkpointStore.Close()
		if err := checkpointStore.LoadAll(baselineCalc, percentiles); err != nil {
			logger.Warn("surveil: checkpoint warm-restart failed, starting cold: %v", err)
		}
	}

	alertStore := alertstore.New(alertstore.Config{
		MaxAlerts:    cfg.AlertStore.MaxAlerts,
		SnapshotPath: cfg.AlertStore.SnapshotPath,
	})
	if err := alertStore.Load(); err != nil {
		logger.Warn("surveil: failed to load alert store snapshot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("surveil: received signal %v, shutting down", sig)
		cancel()
	}()

	var n notifier.Notifier = notifier.Stdout{}
	if cfg.Notifier.Telegram.Enabled {
		tg, err := notifier.NewTelegram(
			cfg.Notifier.Telegram.BotToken,
			cfg.Notifier.Telegram.ChatID,
			cfg.Notifier.Telegram.MaxRetries,
			cfg.Notifier.Telegram.RetryDelayBase,
			nil,
		)
		if err != nil {
			logger.Fatal("surveil: failed to build telegram notifier: %v", err)
		}
		n = tg
		go tg.ListenForCommands(ctx)
	}
	alerts := alertmanager.New(cfg.AlertManager, n, alertStore)

	opportunityState, err := opportunity.Load(opportunity.Config{
		StatePath:           cfg.Discovery.StatePath,
		MarketRetentionDays: cfg.Discovery.MarketRetentionDays,
	})
	if err != nil {
		logger.Fatal("surveil: failed to load opportunity state: %v", err)
	}

	embedder := embedding.NewHTTPProvider(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Timeout)
	llmCli := llm.NewHTTPProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	discoveryPipeline := discovery.New(cfg.Discovery, marketsCli, embedder, llmCli, opportunityState)

	leaderMonitor := leadermonitor.New(cfg.Monitor, leaderStatusCli, opportunityState, func(ev leadermonitor.Event) {
		logger.Info("leadermonitor: %s pair=%s leader=%s action=%s", ev.Kind, ev.PairID, ev.LeaderID, ev.TradeAction)
	})

	var wg sync.WaitGroup

	orch := orchestrator.New(cfg.Exchange, orchestrator.Dependencies{
		MarketsClient:     marketsCli,
		WSFactory:         func() *exchange.WSClient { return exchange.NewWSClient(cfg.Exchange.WSURL, cfg.Exchange.WSOpenTimeout) },
		Filter:            marketFilter,
		Store:             tradeStore,
		Baseline:          baselineCalc,
		Percentiles:       percentiles,
		Engine:            engine,
		Alerts:            alerts,
		AlertStore:        alertStore,
		AlertPublishEvery: cfg.AlertStore.PublishEvery,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Start(ctx); err != nil {
			logger.Error("orchestrator: stopped with error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthSrv := health.New(cfg.Health.ListenAddr, health.Stats{
			MonitoredMarkets: func() int { return len(tradeStore.MarketIDs()) },
			TotalTrades:      tradeStore.TotalTrades,
			AlertsThisHour:   alerts.AlertsThisHour,
		}, alertStore)
		go func() {
			<-ctx.Done()
			healthSrv.Shutdown()
		}()
		if err := healthSrv.Serve(); err != nil {
			logger.Error("health: server stopped with error: %v", err)
		}
	}()

	wg.Add(1)
	go runTicker(ctx, &wg, cfg.Discovery.RescanInterval, true, func() {
		if err := discoveryPipeline.Run(ctx); err != nil {
			logger.Error("discovery: scan failed: %v", err)
		}
	})

	wg.Add(1)
	go runTicker(ctx, &wg, cfg.Monitor.ResolutionCheckInterval, true, func() {
		leaderMonitor.RunOnce(ctx)
	})

	if checkpointStore != nil {
		wg.Add(1)
		go runTicker(ctx, &wg, 5*time.Minute, false, func() {
			if err := checkpointStore.SaveAll(baselineCalc, percentiles); err != nil {
				logger.Warn("checkpoint: periodic save failed: %v", err)
			}
		})
	}

	<-ctx.Done()
	wg.Wait()

	if checkpointStore != nil {
		if err := checkpointStore.SaveAll(baselineCalc, percentiles); err != nil {
			logger.Warn("checkpoint: final save failed: %v", err)
		}
	}
	logger.Info("surveil: shutdown complete")
}

// runTicker runs fn once immediately (if runImmediately) then on a fixed
// interval until ctx is cancelled, mirroring orchestrator.runTicker for the
// top-level background loops main.go owns directly.
func runTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, runImmediately bool, fn func()) {
	defer wg.Done()
	if runImmediately {
		fn()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
