package storage

import (
	"testing"
	"time"
)

func TestMergeWindowEventsDedupsByWallet(t *testing.T) {
	window := 15 * time.Minute
	events := []WindowEvent{
		{Wallet: "0xaaa", TradeID: "t1", Timestamp: 1000, Price: 0.30, USDNotional: 500},
		{Wallet: "0xbbb", TradeID: "t2", Timestamp: 1100, Price: 0.32, USDNotional: 600},
	}

	// Same wallet trades again: the newer entry replaces the older one.
	merged := mergeWindowEvents(events, WindowEvent{
		Wallet: "0xaaa", TradeID: "t3", Timestamp: 1200, Price: 0.31, USDNotional: 700,
	}, window)

	if len(merged) != 2 {
		t.Fatalf("got %d events, want 2", len(merged))
	}
	for _, ev := range merged {
		if ev.Wallet == "0xaaa" && ev.TradeID != "t3" {
			t.Errorf("wallet 0xaaa kept stale trade %s, want t3", ev.TradeID)
		}
	}
}

func TestMergeWindowEventsPrunesStale(t *testing.T) {
	window := 15 * time.Minute
	base := int64(100000)
	events := []WindowEvent{
		{Wallet: "0xaaa", TradeID: "t1", Timestamp: base, Price: 0.30, USDNotional: 500},
		{Wallet: "0xbbb", TradeID: "t2", Timestamp: base + 60, Price: 0.32, USDNotional: 600},
	}

	// New event 20 minutes later pushes both old entries out of the window.
	merged := mergeWindowEvents(events, WindowEvent{
		Wallet: "0xccc", TradeID: "t3", Timestamp: base + 1200, Price: 0.31, USDNotional: 700,
	}, window)

	if len(merged) != 1 {
		t.Fatalf("got %d events, want 1", len(merged))
	}
	if merged[0].Wallet != "0xccc" {
		t.Errorf("got surviving wallet %s, want 0xccc", merged[0].Wallet)
	}
}

func TestMergeWindowEventsPruningRecomputedEveryUpdate(t *testing.T) {
	window := 10 * time.Minute
	base := int64(100000)

	merged := mergeWindowEvents(nil, WindowEvent{Wallet: "0xaaa", TradeID: "t1", Timestamp: base}, window)
	merged = mergeWindowEvents(merged, WindowEvent{Wallet: "0xbbb", TradeID: "t2", Timestamp: base + 300}, window)
	if len(merged) != 2 {
		t.Fatalf("after two events: got %d, want 2", len(merged))
	}

	// Third event 11 minutes after the first: only the first falls out.
	merged = mergeWindowEvents(merged, WindowEvent{Wallet: "0xccc", TradeID: "t3", Timestamp: base + 660}, window)
	if len(merged) != 2 {
		t.Fatalf("after prune: got %d, want 2", len(merged))
	}
	for _, ev := range merged {
		if ev.Wallet == "0xaaa" {
			t.Error("stale event 0xaaa survived pruning")
		}
	}
}

func TestMergeWindowEventsOrderedByTime(t *testing.T) {
	window := time.Hour
	merged := mergeWindowEvents(nil, WindowEvent{Wallet: "0xbbb", Timestamp: 2000}, window)
	merged = mergeWindowEvents(merged, WindowEvent{Wallet: "0xaaa", Timestamp: 1500}, window)
	merged = mergeWindowEvents(merged, WindowEvent{Wallet: "0xccc", Timestamp: 2500}, window)

	if len(merged) != 3 {
		t.Fatalf("got %d events, want 3", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Timestamp < merged[i-1].Timestamp {
			t.Fatalf("events out of order at %d: %d < %d", i, merged[i].Timestamp, merged[i-1].Timestamp)
		}
	}
}

func TestMergeWindowEventsOlderDuplicateIgnored(t *testing.T) {
	window := time.Hour
	events := []WindowEvent{
		{Wallet: "0xaaa", TradeID: "t2", Timestamp: 2000},
	}
	merged := mergeWindowEvents(events, WindowEvent{Wallet: "0xaaa", TradeID: "t1", Timestamp: 1000}, window)
	if len(merged) != 1 {
		t.Fatalf("got %d events, want 1", len(merged))
	}
	if merged[0].TradeID != "t2" {
		t.Errorf("older duplicate replaced newer entry: got %s", merged[0].TradeID)
	}
}

func TestWindowKeyStable(t *testing.T) {
	a := WindowKey("0xmarket", 0, "BUY")
	b := WindowKey("0xmarket", 0, "BUY")
	if a != b {
		t.Error("same inputs produced different keys")
	}
	if a == WindowKey("0xmarket", 1, "BUY") {
		t.Error("different outcome produced same key")
	}
	if a == WindowKey("0xmarket", 0, "SELL") {
		t.Error("different side produced same key")
	}
}

func TestAlertKeyDependsOnWindowBounds(t *testing.T) {
	wk := WindowKey("0xmarket", 0, "BUY")
	a := AlertKey(wk, 1000, 2000)
	if a != AlertKey(wk, 1000, 2000) {
		t.Error("same bounds produced different keys")
	}
	if a == AlertKey(wk, 1000, 2100) {
		t.Error("different last_ts produced same key")
	}
}

func TestWindowStateTotals(t *testing.T) {
	state := &WindowState{
		Events: []WindowEvent{
			{Wallet: "0xaaa", USDNotional: 500},
			{Wallet: "0xbbb", USDNotional: 300.5},
			{Wallet: "0xccc", USDNotional: 199.5},
		},
	}
	if state.WalletCount() != 3 {
		t.Errorf("got %d wallets, want 3", state.WalletCount())
	}
	if total := state.TotalUSD(); total != 1000 {
		t.Errorf("got total %.2f, want 1000.00", total)
	}
}
