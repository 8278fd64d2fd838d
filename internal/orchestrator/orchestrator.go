// Package orchestrator implements the Detector Orchestrator (spec §4.8): it
// owns the market universe, the WebSocket subscription lifecycle, periodic
// market refresh, and per-trade dispatch into the Trade Store, Baseline
// Calculator, Percentile Tracker, Anomaly Engine and Alert Manager. Grounded
// on the teacher's cmd/polyoracle/main.go ticker-and-goroutine lifecycle —
// no external goroutine-pool library is used, matching the teacher's plain
// `go func` + `sync.WaitGroup` idiom.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/surveil/smartmoney/internal/alertmanager"
	"github.com/surveil/smartmoney/internal/alertstore"
	"github.com/surveil/smartmoney/internal/anomaly"
	"github.com/surveil/smartmoney/internal/baseline"
	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/exchange"
	"github.com/surveil/smartmoney/internal/filter"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/percentile"
	"github.com/surveil/smartmoney/internal/tradestore"
)

// Orchestrator wires the trade path end to end and owns the one receive loop
// permitted to mutate Trade Store / Baseline / Percentile Tracker state.
type Orchestrator struct {
	cfg config.ExchangeConfig

	marketsClient *exchange.MarketsClient
	wsFactory     func() *exchange.WSClient
	ws            *exchange.WSClient

	filter            *filter.Filter
	store             *tradestore.Store
	baselineCalc      *baseline.Calculator
	percentiles       *percentile.Manager
	engine            *anomaly.Engine
	alerts            *alertmanager.Manager
	alertStore        *alertstore.Store
	alertPublishEvery time.Duration

	mu            sync.RWMutex
	monitored     map[string]models.Market // marketID -> Market
	tokenToMarket map[string]string        // tokenID -> marketID

	schemaErrors int
	wg           sync.WaitGroup
}

// Dependencies bundles the shared components an Orchestrator dispatches into.
type Dependencies struct {
	MarketsClient     *exchange.MarketsClient
	WSFactory         func() *exchange.WSClient
	Filter            *filter.Filter
	Store             *tradestore.Store
	Baseline          *baseline.Calculator
	Percentiles       *percentile.Manager
	Engine            *anomaly.Engine
	Alerts            *alertmanager.Manager
	AlertStore        *alertstore.Store
	AlertPublishEvery time.Duration
}

// New constructs an Orchestrator from its dependencies and exchange config.
func New(cfg config.ExchangeConfig, deps Dependencies) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg,
		marketsClient:     deps.MarketsClient,
		wsFactory:         deps.WSFactory,
		filter:            deps.Filter,
		store:             deps.Store,
		baselineCalc:      deps.Baseline,
		percentiles:       deps.Percentiles,
		engine:            deps.Engine,
		alerts:            deps.Alerts,
		alertStore:        deps.AlertStore,
		alertPublishEvery: deps.AlertPublishEvery,
		monitored:         make(map[string]models.Market),
		tokenToMarket:     make(map[string]string),
	}
}

// Start fetches the initial market universe, opens the exchange WebSocket,
// subscribes, and runs the receive loop plus periodic tickers until ctx is
// cancelled (spec §4.8 lifecycle).
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.refreshMarkets(ctx); err != nil {
		return err
	}

	if err := o.connectAndSubscribe(); err != nil {
		return err
	}

	o.wg.Add(1)
	go o.runReceiveLoop(ctx)

	o.wg.Add(1)
	go o.runTicker(ctx, time.Hour, o.store.Cleanup)

	o.wg.Add(1)
	go o.runTicker(ctx, 5*time.Minute, o.logStats)

	o.wg.Add(1)
	go o.runTicker(ctx, o.cfg.MarketRefreshPeriod, func() {
		if err := o.refreshMarkets(ctx); err != nil {
			logger.Warn("orchestrator: market refresh failed: %v", err)
		} else {
			o.subscribeNewTokens()
		}
	})

	publishEvery := o.alertPublishEvery
	if publishEvery <= 0 {
		publishEvery = time.Hour
	}
	o.wg.Add(1)
	go o.runTicker(ctx, publishEvery, func() {
		if err := o.alertStore.Publish(); err != nil {
			logger.Warn("alertstore: periodic publish failed: %v", err)
		} else {
			logger.Info("alertstore: published snapshot, %d alerts retained", o.alertStore.Total())
		}
	})

	<-ctx.Done()
	o.shutdown()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) shutdown() {
	logger.Info("orchestrator: shutting down, closing exchange websocket")
	if o.ws != nil {
		if err := o.ws.Close(); err != nil {
			logger.Warn("orchestrator: error closing websocket: %v", err)
		}
	}
}

// runTicker runs fn on a fixed interval until ctx is cancelled, expressed as
// a loop with a sleep and a cancellation channel (teacher idiom, not buried
// in a closure-heavy scheduler).
func (o *Orchestrator) runTicker(ctx context.Context, interval time.Duration, fn func()) {
	defer o.wg.Done()
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

// refreshMarkets fetches the active market universe, applies the Market
// Filter, and replaces the monitored set and reverse token map (spec §4.8
// steps 1-2).
func (o *Orchestrator) refreshMarkets(ctx context.Context) error {
	markets, err := o.marketsClient.FetchMarkets(ctx, o.cfg.MarketFetchCap)
	if err != nil {
		return err
	}

	now := time.Now()
	monitored := make(map[string]models.Market)
	tokenToMarket := make(map[string]string)
	for _, m := range markets {
		decision := o.filter.Classify(m.Question, m.Description, m.Tags, m.EndTime, now)
		if !decision.InUniverse {
			continue
		}
		monitored[m.ID] = m
		tokenToMarket[m.YesTokenID] = m.ID
		tokenToMarket[m.NoTokenID] = m.ID
	}

	o.mu.Lock()
	o.monitored = monitored
	o.tokenToMarket = tokenToMarket
	o.mu.Unlock()

	logger.Info("orchestrator: %d markets in universe after filtering (of %d fetched)", len(monitored), len(markets))
	return nil
}

func (o *Orchestrator) allTokenIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.tokenToMarket))
	for id := range o.tokenToMarket {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) connectAndSubscribe() error {
	ws := o.wsFactory()
	if err := ws.Dial(); err != nil {
		return err
	}
	tokenIDs := o.allTokenIDs()
	if err := ws.Subscribe(tokenIDs, o.cfg.SubscribeBatchSize); err != nil {
		ws.Close()
		return err
	}
	o.ws = ws
	logger.Info("orchestrator: subscribed to %d tokens", len(tokenIDs))
	return nil
}

// subscribeNewTokens sends subscribe frames for the full current token set
// after a market refresh, so newly-added tokens reach the live connection.
// It does not diff against tokens already subscribed: those are sent again.
func (o *Orchestrator) subscribeNewTokens() {
	if o.ws == nil {
		return
	}
	tokenIDs := o.allTokenIDs()
	if err := o.ws.Subscribe(tokenIDs, o.cfg.SubscribeBatchSize); err != nil {
		logger.Warn("orchestrator: failed to resubscribe after market refresh: %v", err)
	}
}

// runReceiveLoop is the sole owner of Trade Store writes, Anomaly Engine
// calls, and Alert Manager dispatch (spec §5 ordering guarantee). On socket
// close it reconnects with backoff and re-subscribes the full token set.
func (o *Orchestrator) runReceiveLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := o.ws.ReadTrades()
		if err != nil {
			logger.Warn("orchestrator: websocket read failed, reconnecting: %v", err)
			if !o.reconnectWithBackoff(ctx) {
				return
			}
			continue
		}

		for _, ev := range events {
			o.handleTradeEvent(ev)
		}
	}
}

func (o *Orchestrator) reconnectWithBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(o.cfg.ReconnectBackoff):
	}
	if err := o.connectAndSubscribe(); err != nil {
		logger.Error("orchestrator: reconnect failed: %v", err)
		return true // retry on next loop iteration
	}
	return true
}

// handleTradeEvent routes one decoded trade event by tokenId, synthesizes a
// Trade, stores it, runs detection, and dispatches alerts in strict
// per-market order (spec §4.8 step 4, §4.5 "update baseline only on zero
// anomalies").
func (o *Orchestrator) handleTradeEvent(ev exchange.TradeEvent) {
	o.mu.RLock()
	marketID, ok := o.tokenToMarket[ev.AssetID]
	var question string
	if m, found := o.monitored[marketID]; found {
		question = m.Question
	}
	o.mu.RUnlock()

	if !ok {
		o.schemaErrors++
		return
	}

	trade := models.NewTrade(marketID, ev.AssetID, ev.Timestamp, 0, ev.Price, ev.Size, ev.Side)
	trade.MakerAddr = ev.MakerAddr
	trade.TakerAddr = ev.TakerAddr
	o.store.Add(trade)

	anomalies := o.engine.Detect(trade, question)
	if len(anomalies) == 0 {
		o.baselineCalc.UpdateBaseline(marketID, o.store.AllTrades(marketID))
	}

	for _, a := range anomalies {
		if _, err := o.alerts.Process(a); err != nil {
			logger.Error("orchestrator: alert delivery failed for %s/%s: %v", marketID, a.Type, err)
		}
	}
}

func (o *Orchestrator) logStats() {
	o.mu.RLock()
	marketCount := len(o.monitored)
	o.mu.RUnlock()
	logger.Info("orchestrator: %d markets monitored, %d trades retained, %d schema errors",
		marketCount, o.store.TotalTrades(), o.schemaErrors)
}
