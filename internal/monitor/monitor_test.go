package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/polysignal/consensuswatch/internal/alerts"
	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/consensus"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/sirupsen/logrus"
)

type cursorStore struct {
	wallets   []string
	cursors   map[string]string
	lastTrade map[string]int64
}

func newCursorStore(wallets ...string) *cursorStore {
	return &cursorStore{
		wallets:   wallets,
		cursors:   make(map[string]string),
		lastTrade: make(map[string]int64),
	}
}

func (s *cursorStore) TrackedWalletAddresses(ctx context.Context) ([]string, error) {
	return s.wallets, nil
}

func (s *cursorStore) LastSeenTradeID(ctx context.Context, address, side string) (string, error) {
	return s.cursors[address+"|"+side], nil
}

func (s *cursorStore) SetLastSeenTradeID(ctx context.Context, address, side, tradeID string) error {
	s.cursors[address+"|"+side] = tradeID
	return nil
}

func (s *cursorStore) TouchWalletLastTrade(ctx context.Context, address string, ts int64) error {
	if ts > s.lastTrade[address] {
		s.lastTrade[address] = ts
	}
	return nil
}

func (s *cursorStore) QueueStats(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"pending": 0}, nil
}

type tradeFeed struct {
	trades map[string][]dataapi.Trade // keyed by address|side, newest first
}

func (f *tradeFeed) RecentTrades(ctx context.Context, address, side string, limit int) ([]dataapi.Trade, error) {
	return f.trades[address+"|"+side], nil
}

type captureProcessor struct {
	events []consensus.TradeEvent
}

func (p *captureProcessor) Process(ctx context.Context, ev consensus.TradeEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type nopSender struct{}

func (nopSender) SendAlert(ctx context.Context, a *alerts.Alert) error           { return nil }
func (nopSender) SendSuppressed(ctx context.Context, s *alerts.Suppressed) error { return nil }
func (nopSender) SendReport(ctx context.Context, r *alerts.Report) error         { return nil }

func monitorConfig() *config.Config {
	return &config.Config{
		PollInterval:    time.Second,
		WalletDelay:     0,
		TradeFetchLimit: 20,
		HeartbeatLoops:  50,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testMonitor(store Store, feed TradeSource, proc Processor) *Monitor {
	return New(monitorConfig(), store, feed, proc, nopSender{}, consensus.NewCounters(), quietLogger())
}

func trade(id string, ts int64) dataapi.Trade {
	return dataapi.Trade{
		ID:          id,
		ConditionID: "0xmarket",
		Side:        "BUY",
		Price:       0.4,
		Size:        100,
		Timestamp:   ts,
	}
}

func TestFirstPollBaselinesCursor(t *testing.T) {
	store := newCursorStore("0xw1")
	feed := &tradeFeed{trades: map[string][]dataapi.Trade{
		"0xw1|BUY": {trade("t3", 300), trade("t2", 200), trade("t1", 100)},
	}}
	proc := &captureProcessor{}

	testMonitor(store, feed, proc).pollOnce(context.Background())

	if len(proc.events) != 0 {
		t.Errorf("events = %d on first sight, want 0 (history not replayed)", len(proc.events))
	}
	if got := store.cursors["0xw1|BUY"]; got != "t3" {
		t.Errorf("cursor = %q, want t3", got)
	}
	if store.lastTrade["0xw1"] != 300 {
		t.Errorf("lastTrade = %d, want 300", store.lastTrade["0xw1"])
	}
}

func TestNewTradesForwardedOldestFirst(t *testing.T) {
	store := newCursorStore("0xw1")
	store.cursors["0xw1|BUY"] = "t1"
	feed := &tradeFeed{trades: map[string][]dataapi.Trade{
		"0xw1|BUY": {trade("t3", 300), trade("t2", 200), trade("t1", 100)},
	}}
	proc := &captureProcessor{}

	testMonitor(store, feed, proc).pollOnce(context.Background())

	if len(proc.events) != 2 {
		t.Fatalf("events = %d, want 2", len(proc.events))
	}
	if proc.events[0].TradeID != "t2" || proc.events[1].TradeID != "t3" {
		t.Errorf("event order = [%s %s], want oldest first [t2 t3]",
			proc.events[0].TradeID, proc.events[1].TradeID)
	}
	if got := store.cursors["0xw1|BUY"]; got != "t3" {
		t.Errorf("cursor = %q, want t3", got)
	}
}

func TestSeenTradesNotReprocessed(t *testing.T) {
	store := newCursorStore("0xw1")
	store.cursors["0xw1|BUY"] = "t3"
	feed := &tradeFeed{trades: map[string][]dataapi.Trade{
		"0xw1|BUY": {trade("t3", 300), trade("t2", 200)},
	}}
	proc := &captureProcessor{}

	m := testMonitor(store, feed, proc)
	m.pollOnce(context.Background())
	m.pollOnce(context.Background())

	if len(proc.events) != 0 {
		t.Errorf("events = %d for already-seen trades, want 0", len(proc.events))
	}
	if got := store.cursors["0xw1|BUY"]; got != "t3" {
		t.Errorf("cursor moved to %q, want t3", got)
	}
}

func TestEventCarriesTradeFields(t *testing.T) {
	store := newCursorStore("0xw1")
	store.cursors["0xw1|BUY"] = "t0"
	feed := &tradeFeed{trades: map[string][]dataapi.Trade{
		"0xw1|BUY": {{
			ID:           "t1",
			ConditionID:  "0xmarket",
			Asset:        "token-0",
			Side:         "BUY",
			Outcome:      "Yes",
			OutcomeIndex: 0,
			Price:        0.42,
			Size:         1000,
			USDCSize:     420,
			Timestamp:    500,
			Title:        "Will it happen",
			Slug:         "will-it-happen",
		}},
	}}
	proc := &captureProcessor{}

	testMonitor(store, feed, proc).pollOnce(context.Background())

	if len(proc.events) != 1 {
		t.Fatalf("events = %d, want 1", len(proc.events))
	}
	ev := proc.events[0]
	if ev.Wallet != "0xw1" || ev.Market != "0xmarket" || ev.AssetID != "token-0" {
		t.Errorf("event identity fields = %+v", ev)
	}
	if ev.USDNotional != 420 {
		t.Errorf("USDNotional = %v, want usdcSize 420", ev.USDNotional)
	}
	if ev.Title != "Will it happen" || ev.Slug != "will-it-happen" {
		t.Errorf("market naming fields not carried: %+v", ev)
	}
}
