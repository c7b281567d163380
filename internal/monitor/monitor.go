package monitor

import (
	"context"
	"time"

	"github.com/polysignal/consensuswatch/internal/alerts"
	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/consensus"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/sirupsen/logrus"
)

var sides = []string{"BUY", "SELL"}

// Store is the persistence surface the monitor needs
type Store interface {
	TrackedWalletAddresses(ctx context.Context) ([]string, error)
	LastSeenTradeID(ctx context.Context, address, side string) (string, error)
	SetLastSeenTradeID(ctx context.Context, address, side, tradeID string) error
	TouchWalletLastTrade(ctx context.Context, address string, ts int64) error
	QueueStats(ctx context.Context) (map[string]int64, error)
}

// TradeSource fetches a wallet's newest trades, newest first
type TradeSource interface {
	RecentTrades(ctx context.Context, address, side string, limit int) ([]dataapi.Trade, error)
}

// Processor consumes observed trade events
type Processor interface {
	Process(ctx context.Context, ev consensus.TradeEvent) error
}

// Monitor polls tracked wallets for new trades in one sequential loop
// and feeds them to the consensus engine oldest-first. A single loop
// keeps the first-trade-wins invariant trivial.
type Monitor struct {
	cfg      *config.Config
	store    Store
	data     TradeSource
	engine   Processor
	sender   alerts.Sender
	counters *consensus.Counters
	log      *logrus.Logger
}

// New creates a trade monitor
func New(cfg *config.Config, store Store, data TradeSource, engine Processor, sender alerts.Sender, counters *consensus.Counters, log *logrus.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		data:     data,
		engine:   engine,
		sender:   sender,
		counters: counters,
		log:      log,
	}
}

// Run polls until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	m.log.WithField("poll_interval", m.cfg.PollInterval.String()).Info("Trade monitor started")

	loops := 0
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Trade monitor stopped")
			return
		default:
		}

		m.pollOnce(ctx)

		loops++
		if m.cfg.HeartbeatLoops > 0 && loops%m.cfg.HeartbeatLoops == 0 {
			m.heartbeat(ctx, loops)
		}

		select {
		case <-ctx.Done():
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	addrs, err := m.store.TrackedWalletAddresses(ctx)
	if err != nil {
		m.log.WithError(err).Error("Failed to list tracked wallets")
		return
	}

	for _, addr := range addrs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.pollWallet(ctx, addr)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.WalletDelay):
		}
	}
}

func (m *Monitor) pollWallet(ctx context.Context, address string) {
	log := m.log.WithField("wallet", alerts.ShortenAddress(address))

	var newestTS int64
	for _, side := range sides {
		ts, err := m.pollSide(ctx, log, address, side)
		if err != nil {
			log.WithError(err).WithField("side", side).Warn("Failed to poll wallet trades")
			continue
		}
		if ts > newestTS {
			newestTS = ts
		}
	}

	if newestTS > 0 {
		if err := m.store.TouchWalletLastTrade(ctx, address, newestTS); err != nil {
			log.WithError(err).Warn("Failed to update wallet activity")
		}
	}
}

// pollSide forwards a wallet's unseen trades for one side to the engine,
// oldest first, and advances the cursor. Returns the newest trade time.
func (m *Monitor) pollSide(ctx context.Context, log *logrus.Entry, address, side string) (int64, error) {
	cursor, err := m.store.LastSeenTradeID(ctx, address, side)
	if err != nil {
		return 0, err
	}

	trades, err := m.data.RecentTrades(ctx, address, side, m.cfg.TradeFetchLimit)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, nil
	}

	// first sight of this wallet: baseline the cursor without replaying
	// its visible history
	if cursor == "" {
		if err := m.store.SetLastSeenTradeID(ctx, address, side, trades[0].ID); err != nil {
			return 0, err
		}
		return trades[0].Timestamp, nil
	}

	var fresh []dataapi.Trade
	for _, t := range trades {
		if t.ID == cursor {
			break
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return trades[0].Timestamp, nil
	}

	// oldest first so windows grow in trade order
	for i := len(fresh) - 1; i >= 0; i-- {
		t := fresh[i]
		ev := consensus.TradeEvent{
			Wallet:      address,
			Market:      t.ConditionID,
			Outcome:     t.OutcomeIndex,
			OutcomeName: t.Outcome,
			Side:        t.Side,
			TradeID:     t.ID,
			AssetID:     t.Asset,
			Price:       t.Price,
			USDNotional: t.NotionalUSD(),
			Timestamp:   t.Timestamp,
			Title:       t.Title,
			Slug:        t.Slug,
		}
		metrics.TradesObserved.WithLabelValues(side).Inc()
		if err := m.engine.Process(ctx, ev); err != nil {
			log.WithError(err).WithField("trade_id", t.ID).Error("Failed to process trade event")
		}
	}

	if err := m.store.SetLastSeenTradeID(ctx, address, side, fresh[0].ID); err != nil {
		return 0, err
	}
	return fresh[0].Timestamp, nil
}

func (m *Monitor) heartbeat(ctx context.Context, loops int) {
	stats, err := m.store.QueueStats(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to read queue stats")
		return
	}
	for status, n := range stats {
		metrics.QueueDepth.WithLabelValues(status).Set(float64(n))
	}

	alertsSent, suppressions := m.counters.Snapshot()
	m.log.WithFields(logrus.Fields{
		"loops":        loops,
		"queue":        stats,
		"alerts_sent":  alertsSent,
		"suppressions": suppressions,
	}).Info("Monitor heartbeat")
}

// SendReport assembles and delivers the periodic operational report
func (m *Monitor) SendReport(ctx context.Context) error {
	addrs, err := m.store.TrackedWalletAddresses(ctx)
	if err != nil {
		return err
	}
	stats, err := m.store.QueueStats(ctx)
	if err != nil {
		return err
	}
	alertsSent, suppressions := m.counters.Snapshot()

	return m.sender.SendReport(ctx, &alerts.Report{
		TrackedWallets: int64(len(addrs)),
		QueueStats:     stats,
		AlertsSent:     alertsSent,
		Suppressions:   suppressions,
		GeneratedAt:    time.Now(),
	})
}
