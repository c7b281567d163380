package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WindowEvent is one wallet's contribution to a rolling window
type WindowEvent struct {
	Wallet      string  `json:"wallet"`
	TradeID     string  `json:"trade_id"`
	Timestamp   int64   `json:"ts"`
	Price       float64 `json:"price"`
	USDNotional float64 `json:"usd"`
}

// WindowState is the post-update view of one rolling window
type WindowState struct {
	Key     string
	Market  string
	Outcome int
	Side    string
	Events  []WindowEvent
	FirstTS int64
	LastTS  int64
}

// WalletCount returns the number of distinct wallets in the window.
// Events are already deduplicated by wallet, so length suffices.
func (w *WindowState) WalletCount() int {
	return len(w.Events)
}

// TotalUSD sums the notional across window events
func (w *WindowState) TotalUSD() float64 {
	var total float64
	for _, ev := range w.Events {
		total += ev.USDNotional
	}
	return total
}

// WindowKey derives the stable key for a (market, outcome, side) window
func WindowKey(market string, outcome int, side string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", market, outcome, side)))
	return fmt.Sprintf("%x", sum)
}

// AlertKey derives the dedup key for one exact window instance
func AlertKey(windowKey string, firstTS, lastTS int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("ALERT:%s:%d:%d", windowKey, firstTS, lastTS)))
	return fmt.Sprintf("%x", sum)
}

// mergeWindowEvents folds a new event into an existing window: dedup by
// wallet keeping the latest entry, then prune everything older than the
// window relative to the newest event, then sort by time. Pruning is
// recomputed on every update rather than cached.
func mergeWindowEvents(events []WindowEvent, ev WindowEvent, windowLen time.Duration) []WindowEvent {
	byWallet := make(map[string]WindowEvent, len(events)+1)
	for _, e := range events {
		prev, ok := byWallet[e.Wallet]
		if !ok || e.Timestamp > prev.Timestamp {
			byWallet[e.Wallet] = e
		}
	}
	prev, ok := byWallet[ev.Wallet]
	if !ok || ev.Timestamp >= prev.Timestamp {
		byWallet[ev.Wallet] = ev
	}

	var latest int64
	for _, e := range byWallet {
		if e.Timestamp > latest {
			latest = e.Timestamp
		}
	}
	cutoff := latest - int64(windowLen.Seconds())

	merged := make([]WindowEvent, 0, len(byWallet))
	for _, e := range byWallet {
		if e.Timestamp >= cutoff {
			merged = append(merged, e)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp == merged[j].Timestamp {
			return merged[i].Wallet < merged[j].Wallet
		}
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// UpsertRollingWindow folds an event into the (market, outcome, side)
// window inside one transaction and returns the resulting state. The row
// lock makes the read-prune-append-write atomic across workers.
func (db *DB) UpsertRollingWindow(ctx context.Context, market string, outcome int, side string, ev WindowEvent, windowLen time.Duration) (*WindowState, error) {
	key := WindowKey(market, outcome, side)
	state := &WindowState{Key: key, Market: market, Outcome: outcome, Side: side}

	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row RollingWindow
		var events []WindowEvent

		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("window_key = ?", key).
			First(&row)
		switch {
		case result.Error == gorm.ErrRecordNotFound:
			// first event for this key
		case result.Error != nil:
			return result.Error
		default:
			if err := json.Unmarshal([]byte(row.EventsJSON), &events); err != nil {
				// corrupted window, start over rather than wedging the key
				db.log.WithError(err).WithField("window_key", key).Warn("Discarding unreadable rolling window")
				events = nil
			}
		}

		merged := mergeWindowEvents(events, ev, windowLen)
		payload, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal window events: %w", err)
		}

		row = RollingWindow{
			WindowKey:    key,
			Market:       market,
			OutcomeIndex: outcome,
			Side:         side,
			EventsJSON:   string(payload),
			FirstTS:      merged[0].Timestamp,
			LastTS:       merged[len(merged)-1].Timestamp,
			UpdatedTS:    time.Now().Unix(),
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		state.Events = merged
		state.FirstTS = row.FirstTS
		state.LastTS = row.LastTS
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// CleanupStaleWindows drops windows quiet past the retention period
func (db *DB) CleanupStaleWindows(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result := db.conn.WithContext(ctx).
		Where("last_ts < ?", cutoff).
		Delete(&RollingWindow{})
	return result.RowsAffected, result.Error
}

// HasAlert reports whether an alert was already sent for this exact window
func (db *DB) HasAlert(ctx context.Context, alertKey string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&AlertRecord{}).
		Where("alert_key = ?", alertKey).
		Count(&count)
	return count > 0, result.Error
}

// HasAlertWithin reports whether (market, outcome, side) alerted within
// the given duration. Backs both the cooldown and opposite-side conflict
// checks.
func (db *DB) HasAlertWithin(ctx context.Context, market string, outcome int, side string, within time.Duration) (bool, error) {
	cutoff := time.Now().Add(-within).Unix()
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&AlertRecord{}).
		Where("market = ? AND outcome_index = ? AND side = ? AND sent_ts >= ?", market, outcome, side, cutoff).
		Count(&count)
	return count > 0, result.Error
}

// RecentAlerts returns the newest alerts for a market across outcomes and
// sides, newest first. The refresh gate compares the candidate window
// against these.
func (db *DB) RecentAlerts(ctx context.Context, market string, limit int) ([]AlertRecord, error) {
	var alerts []AlertRecord
	result := db.conn.WithContext(ctx).
		Where("market = ?", market).
		Order("sent_ts DESC").
		Limit(limit).
		Find(&alerts)
	return alerts, result.Error
}

// FirstTotalUSD returns the baseline notional from the earliest alert for
// (market, outcome, side). The boolean is false when no alert exists yet.
func (db *DB) FirstTotalUSD(ctx context.Context, market string, outcome int, side string) (float64, bool, error) {
	var record AlertRecord
	result := db.conn.WithContext(ctx).
		Where("market = ? AND outcome_index = ? AND side = ?", market, outcome, side).
		Order("sent_ts ASC").
		First(&record)
	if result.Error == gorm.ErrRecordNotFound {
		return 0, false, nil
	}
	if result.Error != nil {
		return 0, false, result.Error
	}
	return record.FirstTotalUSD, true, nil
}

// RecordAlert persists a sent alert. first_total_usd carries the original
// baseline forward on repeats and is set from the current total only on
// the first alert for the key.
func (db *DB) RecordAlert(ctx context.Context, record *AlertRecord) error {
	if !record.IsRepeat {
		record.FirstTotalUSD = record.TotalUSD
	}
	return db.conn.WithContext(ctx).Create(record).Error
}

// HasSuppressedAlertRecently reports whether this (market, outcome, side,
// reason) was already recorded inside the dedup window.
func (db *DB) HasSuppressedAlertRecently(ctx context.Context, market string, outcome int, side, reason string, within time.Duration) (bool, error) {
	cutoff := time.Now().Add(-within).Unix()
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&SuppressedAlert{}).
		Where("market = ? AND outcome_index = ? AND side = ? AND reason = ? AND created_ts >= ?",
			market, outcome, side, reason, cutoff).
		Count(&count)
	return count > 0, result.Error
}

// MarkSuppressedAlert records one suppression occurrence
func (db *DB) MarkSuppressedAlert(ctx context.Context, market string, outcome int, side, reason string, walletCount int) error {
	record := SuppressedAlert{
		Market:       market,
		OutcomeIndex: outcome,
		Side:         side,
		Reason:       reason,
		WalletCount:  walletCount,
	}
	return db.conn.WithContext(ctx).Create(&record).Error
}

// CleanupSuppressedAlerts drops suppression rows older than the retention
func (db *DB) CleanupSuppressedAlerts(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result := db.conn.WithContext(ctx).
		Where("created_ts < ?", cutoff).
		Delete(&SuppressedAlert{})
	return result.RowsAffected, result.Error
}

// HasTradedMarket reports whether (wallet, market, side) already holds a
// trade mark.
func (db *DB) HasTradedMarket(ctx context.Context, address, market, side string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&MarketTradeMark{}).
		Where("address = ? AND market = ? AND side = ?", address, market, side).
		Count(&count)
	return count > 0, result.Error
}

// MarkMarketTraded pins a wallet's first counted trade for (market, side).
// Conflicts are ignored so replays keep the original mark.
func (db *DB) MarkMarketTraded(ctx context.Context, address, market, side, tradeID string, tradeTS int64) error {
	mark := MarketTradeMark{
		Address: address,
		Market:  market,
		Side:    side,
		TradeID: tradeID,
		TradeTS: tradeTS,
	}
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mark).Error
}
