package consensus

import (
	"context"
	"strings"
	"time"

	"github.com/polysignal/consensuswatch/internal/alerts"
	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/polymarket/clobapi"
	"github.com/polysignal/consensuswatch/internal/pricing"
	"github.com/polysignal/consensuswatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// Suppression reasons
const (
	ReasonMarketClosed   = "market_closed"
	ReasonMarketResolved = "market_resolved"
	ReasonMalformedPrice = "malformed_price"
	ReasonNoData         = "no_data"
	ReasonDivergence     = "price_divergence"
	ReasonRefreshWindow  = "refresh_window"
	ReasonNoTrigger      = "no_trigger"
	ReasonCooldown       = "cooldown"
	ReasonSideConflict   = "side_conflict"
	ReasonLowNotional    = "low_notional"
	ReasonBelowRepeat    = "below_repeat"
)

// staleWindowAge bounds how old a window's newest event may be before
// suppression notices stop being worth surfacing.
const staleWindowAge = time.Hour

// sameOutcomeIgnore is the hard floor between alerts on the same
// outcome. Inside it nothing re-alerts; between it and the refresh
// interval a trigger must fire.
const sameOutcomeIgnore = 30 * time.Minute

// TradeEvent is one observed trade by a tracked wallet
type TradeEvent struct {
	Wallet      string
	Display     string
	Market      string
	Outcome     int
	OutcomeName string
	Side        string
	TradeID     string
	AssetID     string
	Price       float64
	USDNotional float64
	Timestamp   int64
	Title       string
	Slug        string
}

// Store is the persistence surface the engine needs
type Store interface {
	HasTradedMarket(ctx context.Context, address, market, side string) (bool, error)
	MarkMarketTraded(ctx context.Context, address, market, side, tradeID string, tradeTS int64) error
	UpsertRollingWindow(ctx context.Context, market string, outcome int, side string, ev storage.WindowEvent, windowLen time.Duration) (*storage.WindowState, error)
	HasAlert(ctx context.Context, alertKey string) (bool, error)
	HasAlertWithin(ctx context.Context, market string, outcome int, side string, within time.Duration) (bool, error)
	RecentAlerts(ctx context.Context, market string, limit int) ([]storage.AlertRecord, error)
	FirstTotalUSD(ctx context.Context, market string, outcome int, side string) (float64, bool, error)
	RecordAlert(ctx context.Context, record *storage.AlertRecord) error
	HasSuppressedAlertRecently(ctx context.Context, market string, outcome int, side, reason string, within time.Duration) (bool, error)
	MarkSuppressedAlert(ctx context.Context, market string, outcome int, side, reason string, walletCount int) error
}

// StatusSource reports market liveness
type StatusSource interface {
	Status(ctx context.Context, market string) (*clobapi.MarketStatus, error)
}

// PriceSource resolves a current price through the fallback chain
type PriceSource interface {
	Resolve(ctx context.Context, req pricing.Request) (float64, bool, error)
}

// Engine correlates tracked-wallet trades into consensus alerts. Every
// candidate walks an ordered validation cascade; the first failing check
// wins and nothing later runs.
type Engine struct {
	cfg      *config.Config
	store    Store
	status   StatusSource
	prices   PriceSource
	sender   alerts.Sender
	counters *Counters
	log      *logrus.Logger
}

// New creates a consensus engine
func New(cfg *config.Config, store Store, status StatusSource, prices PriceSource, sender alerts.Sender, counters *Counters, log *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		status:   status,
		prices:   prices,
		sender:   sender,
		counters: counters,
		log:      log,
	}
}

// Process folds one trade event into its rolling window and, when the
// window reaches consensus, runs the validation cascade.
func (e *Engine) Process(ctx context.Context, ev TradeEvent) error {
	log := e.log.WithFields(logrus.Fields{
		"wallet":  alerts.ShortenAddress(ev.Wallet),
		"market":  ev.Market,
		"outcome": ev.Outcome,
		"side":    ev.Side,
	})

	// first-trade-wins: a wallet already counted for this market+side
	// never contributes again
	marked, err := e.store.HasTradedMarket(ctx, ev.Wallet, ev.Market, ev.Side)
	if err != nil {
		return err
	}
	if marked {
		log.Debug("Wallet already counted for market, dropping event")
		return nil
	}

	windowLen := time.Duration(e.cfg.WindowMinutes) * time.Minute
	state, err := e.store.UpsertRollingWindow(ctx, ev.Market, ev.Outcome, ev.Side, storage.WindowEvent{
		Wallet:      ev.Wallet,
		TradeID:     ev.TradeID,
		Timestamp:   ev.Timestamp,
		Price:       ev.Price,
		USDNotional: ev.USDNotional,
	}, windowLen)
	if err != nil {
		return err
	}
	metrics.WindowEvents.Inc()

	if state.WalletCount() < e.cfg.MinConsensus {
		return nil
	}

	log = log.WithFields(logrus.Fields{
		"wallet_count": state.WalletCount(),
		"total_usd":    state.TotalUSD(),
	})
	log.Info("Consensus threshold reached, validating")

	return e.validate(ctx, log, ev, state)
}

func (e *Engine) validate(ctx context.Context, log *logrus.Entry, ev TradeEvent, state *storage.WindowState) error {
	// 1. market liveness
	status := e.fetchStatus(ctx, log, ev.Market)
	if status != nil && !status.Active {
		e.recordSuppressed(ctx, log, ev, state, ReasonMarketClosed)
		return nil
	}

	// 2. exact-window dedup
	alertKey := storage.AlertKey(state.Key, state.FirstTS, state.LastTS)
	dup, err := e.store.HasAlert(ctx, alertKey)
	if err != nil {
		return err
	}
	if dup {
		log.Debug("Alert already sent for this window")
		return nil
	}

	// 3. entry-price divergence among the first three wallets
	if !divergenceOK(state.Events) {
		e.reject(log, ReasonDivergence)
		return nil
	}

	// 4. price resolution, fail-open on absence
	price, priceKnown, err := e.resolvePrice(ctx, ev, status, state)
	if err != nil {
		// a present-but-unparseable price blocks the alert
		log.WithError(err).Warn("Malformed upstream price, blocking alert")
		e.recordSuppressed(ctx, log, ev, state, ReasonMalformedPrice)
		return nil
	}
	if !priceKnown && status == nil {
		// neither price nor liveness could be confirmed
		e.reject(log, ReasonNoData)
		return nil
	}

	if priceKnown {
		// 5. settled market
		if price <= 0.001 || price >= 0.999 {
			e.recordSuppressed(ctx, log, ev, state, ReasonMarketResolved)
			return nil
		}
		// 6. near-bound price, re-check liveness before trusting it
		if price <= 0.02 || price >= 0.98 {
			fresh := e.fetchStatus(ctx, log, ev.Market)
			if fresh != nil && !fresh.Active {
				e.recordSuppressed(ctx, log, ev, state, ReasonMarketClosed)
				return nil
			}
			log.WithField("price", price).Warn("Near-bound price on active market, proceeding")
		}
	}

	// 7. final liveness re-check, closes the race with step 1
	if fresh := e.fetchStatus(ctx, log, ev.Market); fresh != nil && !fresh.Active {
		e.recordSuppressed(ctx, log, ev, state, ReasonMarketClosed)
		return nil
	}

	// 8. refresh gate against the market's recent alert history
	recent, err := e.store.RecentAlerts(ctx, ev.Market, 3)
	if err != nil {
		return err
	}
	if reason := e.refreshGate(ev, state, recent, price, priceKnown); reason != "" {
		e.reject(log, reason)
		return nil
	}

	// 9. cooldown for this exact key
	cooldown := time.Duration(e.cfg.CooldownMinutes) * time.Minute
	cooling, err := e.store.HasAlertWithin(ctx, ev.Market, ev.Outcome, ev.Side, cooldown)
	if err != nil {
		return err
	}
	if cooling {
		e.reject(log, ReasonCooldown)
		return nil
	}

	// 10. opposite side conflict
	conflict := time.Duration(e.cfg.ConflictMinutes) * time.Minute
	opposed, err := e.store.HasAlertWithin(ctx, ev.Market, ev.Outcome, oppositeSide(ev.Side), conflict)
	if err != nil {
		return err
	}
	if opposed {
		e.reject(log, ReasonSideConflict)
		return nil
	}

	// 11. aggregate notional floor
	total := state.TotalUSD()
	if total < e.cfg.MinTotalPosUSD {
		e.reject(log, ReasonLowNotional)
		return nil
	}

	// 12. repeat rule: a second alert needs 2x the original baseline
	baseline, hasPrior, err := e.store.FirstTotalUSD(ctx, ev.Market, ev.Outcome, ev.Side)
	if err != nil {
		return err
	}
	isRepeat := false
	if hasPrior {
		if total < 2*baseline {
			e.reject(log, ReasonBelowRepeat)
			return nil
		}
		isRepeat = true
	}

	return e.dispatch(ctx, log, ev, state, alertKey, price, priceKnown, total, baseline, isRepeat)
}

func (e *Engine) dispatch(ctx context.Context, log *logrus.Entry, ev TradeEvent, state *storage.WindowState, alertKey string, price float64, priceKnown bool, total, baseline float64, isRepeat bool) error {
	wallets := make([]alerts.WalletEntry, 0, len(state.Events))
	addrs := make([]string, 0, len(state.Events))
	for _, we := range state.Events {
		wallets = append(wallets, alerts.WalletEntry{
			Address:     we.Wallet,
			Short:       alerts.ShortenAddress(we.Wallet),
			Price:       we.Price,
			USDNotional: we.USDNotional,
			Timestamp:   time.Unix(we.Timestamp, 0),
		})
		addrs = append(addrs, we.Wallet)
	}

	alert := &alerts.Alert{
		Market:       ev.Market,
		MarketTitle:  ev.Title,
		MarketSlug:   ev.Slug,
		OutcomeIndex: ev.Outcome,
		Side:         ev.Side,
		Price:        price,
		PriceKnown:   priceKnown,
		WalletCount:  state.WalletCount(),
		TotalUSD:     total,
		IsRepeat:     isRepeat,
		Wallets:      wallets,
		WindowFirst:  time.Unix(state.FirstTS, 0),
		WindowLast:   time.Unix(state.LastTS, 0),
		Environment:  e.cfg.Environment,
	}

	sendErr := e.sender.SendAlert(ctx, alert)
	metrics.RecordAlertSent("notifier", sendErr)
	if sendErr != nil {
		// the alert record is still written so cooldowns hold
		log.WithError(sendErr).Error("Failed to deliver consensus alert")
	}

	record := &storage.AlertRecord{
		AlertKey:      alertKey,
		Market:        ev.Market,
		OutcomeIndex:  ev.Outcome,
		Side:          ev.Side,
		WindowFirstTS: state.FirstTS,
		WindowLastTS:  state.LastTS,
		WalletCount:   state.WalletCount(),
		Price:         price,
		WalletsCSV:    strings.Join(addrs, ","),
		TotalUSD:      total,
		FirstTotalUSD: baseline,
		IsRepeat:      isRepeat,
	}
	if err := e.store.RecordAlert(ctx, record); err != nil {
		return err
	}

	for _, we := range state.Events {
		if err := e.store.MarkMarketTraded(ctx, we.Wallet, ev.Market, ev.Side, we.TradeID, we.Timestamp); err != nil {
			log.WithError(err).WithField("mark_wallet", alerts.ShortenAddress(we.Wallet)).Warn("Failed to mark market trade")
		}
	}

	e.counters.AlertSent()
	log.WithFields(logrus.Fields{
		"price":  price,
		"repeat": isRepeat,
	}).Info("Consensus alert dispatched")
	return nil
}

// fetchStatus returns nil when liveness cannot be confirmed either way
func (e *Engine) fetchStatus(ctx context.Context, log *logrus.Entry, market string) *clobapi.MarketStatus {
	status, err := e.status.Status(ctx, market)
	if err != nil {
		log.WithError(err).Debug("Market status unavailable")
		return nil
	}
	if !status.Known {
		return nil
	}
	return status
}

// resolvePrice walks the fallback chain with every hint available
func (e *Engine) resolvePrice(ctx context.Context, ev TradeEvent, status *clobapi.MarketStatus, state *storage.WindowState) (float64, bool, error) {
	assetID := ev.AssetID
	if assetID == "" && status != nil {
		assetID = status.TokenID(ev.Outcome)
	}

	windowPrices := make([]float64, 0, len(state.Events))
	for _, we := range state.Events {
		if we.Price > 0 {
			windowPrices = append(windowPrices, we.Price)
		}
	}

	return e.prices.Resolve(ctx, pricing.Request{
		Market:       ev.Market,
		Outcome:      ev.Outcome,
		AssetID:      assetID,
		StatusHint:   status,
		WindowPrices: windowPrices,
	})
}

// refreshGate decides whether a market with recent alert history has
// changed enough to justify another alert. Empty reason means pass.
func (e *Engine) refreshGate(ev TradeEvent, state *storage.WindowState, recent []storage.AlertRecord, price float64, priceKnown bool) string {
	if len(recent) == 0 {
		return ""
	}

	now := time.Now()
	for _, r := range recent {
		if r.OutcomeIndex == ev.Outcome && now.Sub(time.Unix(r.SentTS, 0)) < sameOutcomeIgnore {
			return ReasonRefreshWindow
		}
	}

	last := recent[0]
	if last.OutcomeIndex != ev.Outcome {
		return "" // market flipped outcomes
	}
	if state.WalletCount() > last.WalletCount {
		return ""
	}
	if hasNewWallet(state, recent) {
		return ""
	}
	if priceKnown && last.Price > 0 && abs(price-last.Price) >= 0.01 {
		return ""
	}
	refresh := time.Duration(e.cfg.RefreshMinutes) * time.Minute
	if now.Sub(time.Unix(last.SentTS, 0)) >= refresh {
		return ""
	}
	return ReasonNoTrigger
}

// hasNewWallet reports whether the window holds a wallet absent from the
// union of the recent alerts' participants.
func hasNewWallet(state *storage.WindowState, recent []storage.AlertRecord) bool {
	seen := make(map[string]struct{})
	for _, r := range recent {
		for _, addr := range strings.Split(r.WalletsCSV, ",") {
			if addr != "" {
				seen[addr] = struct{}{}
			}
		}
	}
	for _, we := range state.Events {
		if _, ok := seen[we.Wallet]; !ok {
			return true
		}
	}
	return false
}

// divergenceOK checks entry-price agreement among the first three
// wallets by time. Cheap outcomes get a free pass, longshots up to 40%
// spread, everything else 20%.
func divergenceOK(events []storage.WindowEvent) bool {
	if len(events) < 3 {
		return true
	}
	lo, hi := events[0].Price, events[0].Price
	for _, we := range events[:3] {
		if we.Price < lo {
			lo = we.Price
		}
		if we.Price > hi {
			hi = we.Price
		}
	}
	if hi <= 0.05 {
		return true
	}
	spread := (hi - lo) / hi
	if hi < 0.5 {
		return spread <= 0.40
	}
	return spread <= 0.20
}

// reject counts a cascade rejection without persisting anything
func (e *Engine) reject(log *logrus.Entry, reason string) {
	e.counters.Suppression(reason)
	metrics.RecordSuppression(reason)
	log.WithField("reason", reason).Info("Consensus suppressed")
}

// recordSuppressed counts the rejection and, when the window is fresh
// and this key+reason has not been recorded inside the dedup interval,
// persists it and notifies once.
func (e *Engine) recordSuppressed(ctx context.Context, log *logrus.Entry, ev TradeEvent, state *storage.WindowState, reason string) {
	e.reject(log, reason)

	if time.Since(time.Unix(state.LastTS, 0)) >= staleWindowAge {
		return
	}

	dedup := time.Duration(e.cfg.SuppressDedupMin) * time.Minute
	seen, err := e.store.HasSuppressedAlertRecently(ctx, ev.Market, ev.Outcome, ev.Side, reason, dedup)
	if err != nil {
		log.WithError(err).Warn("Suppression dedup lookup failed")
		return
	}
	if seen {
		return
	}

	if err := e.store.MarkSuppressedAlert(ctx, ev.Market, ev.Outcome, ev.Side, reason, state.WalletCount()); err != nil {
		log.WithError(err).Warn("Failed to record suppression")
	}
	if err := e.sender.SendSuppressed(ctx, &alerts.Suppressed{
		Market:       ev.Market,
		OutcomeIndex: ev.Outcome,
		Side:         ev.Side,
		Reason:       reason,
		WalletCount:  state.WalletCount(),
	}); err != nil {
		log.WithError(err).Warn("Failed to deliver suppression notice")
	}
}

func oppositeSide(side string) string {
	if side == "BUY" {
		return "SELL"
	}
	return "BUY"
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
