package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// EnqueueJob adds a wallet to the analysis queue. Returns false without
// error if the address is already queued.
func (db *DB) EnqueueJob(ctx context.Context, address, display, source string, maxRetries int) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("address = ?", address).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	if count > 0 {
		return false, nil
	}

	job := AnalysisJob{
		Address:    address,
		Display:    display,
		Source:     source,
		Status:     JobPending,
		MaxRetries: maxRetries,
	}
	if err := db.conn.WithContext(ctx).Create(&job).Error; err != nil {
		return false, err
	}
	return true, nil
}

// DequeueReady returns pending jobs whose retry time has passed,
// oldest-created first.
func (db *DB) DequeueReady(ctx context.Context, limit int) ([]AnalysisJob, error) {
	var jobs []AnalysisJob
	now := time.Now().Unix()
	result := db.conn.WithContext(ctx).
		Where("status = ? AND (next_retry_ts = 0 OR next_retry_ts <= ?)", JobPending, now).
		Order("created_ts ASC").
		Limit(limit).
		Find(&jobs)
	return jobs, result.Error
}

// ClaimJob atomically moves a job from pending to processing. The
// conditional update is the only coordination point between workers:
// whoever flips the row first wins, everyone else sees zero rows affected.
func (db *DB) ClaimJob(ctx context.Context, id int64) (bool, error) {
	result := db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ? AND status = ?", id, JobPending).
		Updates(map[string]interface{}{
			"status":     JobProcessing,
			"updated_ts": time.Now().Unix(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteJob marks a job done
func (db *DB) CompleteJob(ctx context.Context, id int64) error {
	return db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        JobCompleted,
			"error_message": "",
			"updated_ts":    time.Now().Unix(),
		}).Error
}

// FailJob marks a job terminally failed
func (db *DB) FailJob(ctx context.Context, id int64, errMsg string) error {
	return db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        JobFailed,
			"error_message": truncate(errMsg, 512),
			"updated_ts":    time.Now().Unix(),
		}).Error
}

// RetryJob resets a job to pending with a future retry time and bumps
// the retry counter.
func (db *DB) RetryJob(ctx context.Context, id int64, nextRetry time.Time, errMsg string) error {
	return db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        JobPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_ts": nextRetry.Unix(),
			"error_message": truncate(errMsg, 512),
			"updated_ts":    time.Now().Unix(),
		}).Error
}

// ReclaimStuck resets jobs stuck in processing past the timeout back to
// pending. Covers worker crashes mid-job.
func (db *DB) ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout).Unix()
	result := db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("status = ? AND updated_ts < ?", JobProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     JobPending,
			"updated_ts": time.Now().Unix(),
		})
	return result.RowsAffected, result.Error
}

// QueueStats returns job counts by status
func (db *DB) QueueStats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	result := db.conn.WithContext(ctx).
		Model(&AnalysisJob{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.N
	}
	return stats, nil
}

// GetCachedAnalysis returns the cached verdict for an address, or nil if
// absent or expired.
func (db *DB) GetCachedAnalysis(ctx context.Context, address string) (*AnalysisCache, error) {
	var entry AnalysisCache
	result := db.conn.WithContext(ctx).Where("address = ?", address).First(&entry)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	if entry.ExpiresTS <= time.Now().Unix() {
		return nil, nil
	}
	return &entry, nil
}

// CacheAnalysis stores or refreshes a verdict with a TTL
func (db *DB) CacheAnalysis(ctx context.Context, entry *AnalysisCache, ttl time.Duration) error {
	entry.ExpiresTS = time.Now().Add(ttl).Unix()
	if entry.CreatedTS == 0 {
		entry.CreatedTS = time.Now().Unix()
	}
	return db.conn.WithContext(ctx).Save(entry).Error
}

// CleanupExpiredCache deletes cache rows past their expiry
func (db *DB) CleanupExpiredCache(ctx context.Context) (int64, error) {
	result := db.conn.WithContext(ctx).
		Where("expires_ts <= ?", time.Now().Unix()).
		Delete(&AnalysisCache{})
	return result.RowsAffected, result.Error
}

// GetTrackedWallet retrieves a tracked wallet, nil if not tracked
func (db *DB) GetTrackedWallet(ctx context.Context, address string) (*TrackedWallet, error) {
	var wallet TrackedWallet
	result := db.conn.WithContext(ctx).Where("address = ?", address).First(&wallet)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &wallet, nil
}

// UpsertTrackedWallet inserts or refreshes a tracked wallet
func (db *DB) UpsertTrackedWallet(ctx context.Context, wallet *TrackedWallet) error {
	existing, err := db.GetTrackedWallet(ctx, wallet.Address)
	if err != nil {
		return err
	}

	if existing == nil {
		return db.conn.WithContext(ctx).Create(wallet).Error
	}

	updates := map[string]interface{}{
		"display":          wallet.Display,
		"source":           wallet.Source,
		"win_rate":         wallet.WinRate,
		"realized_pnl_usd": wallet.RealizedPnLUSD,
		"volume_usd":       wallet.VolumeUSD,
		"market_count":     wallet.MarketCount,
		"updated_ts":       time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Where("address = ?", wallet.Address).
		Updates(updates).Error
}

// TrackedWalletAddresses lists all tracked wallet addresses, oldest first
func (db *DB) TrackedWalletAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	result := db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Order("added_ts ASC").
		Pluck("address", &addrs)
	return addrs, result.Error
}

// TouchWalletLastTrade bumps a wallet's last observed trade timestamp
func (db *DB) TouchWalletLastTrade(ctx context.Context, address string, ts int64) error {
	return db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Where("address = ? AND last_trade_ts < ?", address, ts).
		Updates(map[string]interface{}{
			"last_trade_ts": ts,
			"updated_ts":    time.Now().Unix(),
		}).Error
}

// CleanupInactiveWallets removes wallets idle past maxIdle, then trims the
// registry down to maxWallets keeping the most recently active.
func (db *DB) CleanupInactiveWallets(ctx context.Context, maxIdle time.Duration, maxWallets int) (int64, error) {
	cutoff := time.Now().Add(-maxIdle).Unix()
	result := db.conn.WithContext(ctx).
		Where("last_trade_ts > 0 AND last_trade_ts < ?", cutoff).
		Delete(&TrackedWallet{})
	if result.Error != nil {
		return 0, result.Error
	}
	removed := result.RowsAffected

	var count int64
	if err := db.conn.WithContext(ctx).Model(&TrackedWallet{}).Count(&count).Error; err != nil {
		return removed, err
	}
	if int(count) <= maxWallets {
		return removed, nil
	}

	var overflow []string
	if err := db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Order("last_trade_ts ASC").
		Limit(int(count) - maxWallets).
		Pluck("address", &overflow).Error; err != nil {
		return removed, err
	}
	if len(overflow) > 0 {
		trim := db.conn.WithContext(ctx).Where("address IN ?", overflow).Delete(&TrackedWallet{})
		if trim.Error != nil {
			return removed, trim.Error
		}
		removed += trim.RowsAffected
	}
	return removed, nil
}

// ExpiredAcceptedWallets lists tracked wallets whose cached verdict has
// lapsed, so the maintenance job can requeue them for re-analysis.
func (db *DB) ExpiredAcceptedWallets(ctx context.Context, limit int) ([]TrackedWallet, error) {
	now := time.Now().Unix()
	var wallets []TrackedWallet
	result := db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Where("address NOT IN (?)",
			db.conn.Model(&AnalysisCache{}).Select("address").Where("expires_ts > ?", now)).
		Order("updated_ts ASC").
		Limit(limit).
		Find(&wallets)
	return wallets, result.Error
}

// DeleteCompletedJob clears a terminal job row so the address can be
// enqueued again later.
func (db *DB) DeleteCompletedJob(ctx context.Context, address string) error {
	return db.conn.WithContext(ctx).
		Where("address = ? AND status IN ?", address, []string{JobCompleted, JobFailed}).
		Delete(&AnalysisJob{}).Error
}

// LastSeenTradeID returns the monitor cursor for (wallet, side), empty if none
func (db *DB) LastSeenTradeID(ctx context.Context, address, side string) (string, error) {
	var cursor TradeCursor
	result := db.conn.WithContext(ctx).
		Where("address = ? AND side = ?", address, side).
		First(&cursor)
	if result.Error == gorm.ErrRecordNotFound {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return cursor.TradeID, nil
}

// SetLastSeenTradeID advances the monitor cursor for (wallet, side)
func (db *DB) SetLastSeenTradeID(ctx context.Context, address, side, tradeID string) error {
	cursor := TradeCursor{
		Address:   address,
		Side:      side,
		TradeID:   tradeID,
		UpdatedTS: time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).Save(&cursor).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
