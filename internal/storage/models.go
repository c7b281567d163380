package storage

import (
	"time"

	"gorm.io/gorm"
)

// Job status values
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// AnalysisJob is one queued wallet-analysis request
type AnalysisJob struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Address      string `gorm:"uniqueIndex;size:128;not null"`
	Display      string `gorm:"size:255"`
	Source       string `gorm:"size:64;index"`
	Status       string `gorm:"size:16;not null;default:pending;index"`
	RetryCount   int    `gorm:"not null;default:0"`
	MaxRetries   int    `gorm:"not null;default:6"`
	NextRetryTS  int64  `gorm:"default:0;index"`
	ErrorMessage string `gorm:"size:512"`
	CreatedTS    int64  `gorm:"not null;index"`
	UpdatedTS    int64  `gorm:"not null"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// AnalysisCache stores one TTL-bounded analysis verdict per address
type AnalysisCache struct {
	Address        string  `gorm:"primaryKey;size:128"`
	Result         string  `gorm:"size:48;not null;index"`
	TradeCount     int     `gorm:"not null;default:0"`
	MarketCount    int     `gorm:"not null;default:0"`
	WinRate        float64 `gorm:"type:decimal(5,4);default:0"`
	RealizedPnLUSD float64 `gorm:"column:realized_pnl_usd;type:decimal(20,6);default:0"`
	VolumeUSD      float64 `gorm:"type:decimal(20,6);default:0"`
	DailyFrequency float64 `gorm:"type:decimal(10,4);default:0"`
	LastTradeTS    int64   `gorm:"default:0"`
	ExpiresTS      int64   `gorm:"not null;index"`
	CreatedTS      int64   `gorm:"not null"`
}

func (AnalysisCache) TableName() string {
	return "analysis_cache"
}

// TrackedWallet is a wallet that passed the quality filter cascade
type TrackedWallet struct {
	Address        string  `gorm:"primaryKey;size:128"`
	Display        string  `gorm:"size:255"`
	Source         string  `gorm:"size:64;index"`
	WinRate        float64 `gorm:"type:decimal(5,4);default:0"`
	RealizedPnLUSD float64 `gorm:"column:realized_pnl_usd;type:decimal(20,6);default:0"`
	VolumeUSD      float64 `gorm:"type:decimal(20,6);default:0"`
	MarketCount    int     `gorm:"not null;default:0"`
	LastTradeTS    int64   `gorm:"default:0;index"`
	AddedTS        int64   `gorm:"not null;index"`
	UpdatedTS      int64   `gorm:"not null"`
}

func (TrackedWallet) TableName() string {
	return "tracked_wallets"
}

// RollingWindow is the persisted event buffer for one (market, outcome, side)
type RollingWindow struct {
	WindowKey    string `gorm:"primaryKey;size:64"`
	Market       string `gorm:"size:128;not null;index"`
	OutcomeIndex int    `gorm:"not null"`
	Side         string `gorm:"size:10;not null"`
	EventsJSON   string `gorm:"type:text;not null"`
	FirstTS      int64  `gorm:"not null"`
	LastTS       int64  `gorm:"not null;index"`
	UpdatedTS    int64  `gorm:"not null"`
}

func (RollingWindow) TableName() string {
	return "rolling_windows"
}

// AlertRecord stores one sent consensus alert
type AlertRecord struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	AlertKey      string  `gorm:"uniqueIndex;size:64;not null"`
	Market        string  `gorm:"size:128;not null;index"`
	OutcomeIndex  int     `gorm:"not null"`
	Side          string  `gorm:"size:10;not null"`
	WindowFirstTS int64   `gorm:"not null"`
	WindowLastTS  int64   `gorm:"not null"`
	WalletCount   int     `gorm:"not null"`
	Price         float64 `gorm:"type:decimal(10,6);default:0"`
	WalletsCSV    string  `gorm:"type:text"`
	TotalUSD      float64 `gorm:"type:decimal(20,6);not null"`
	FirstTotalUSD float64 `gorm:"type:decimal(20,6);not null"`
	IsRepeat      bool    `gorm:"default:false"`
	SentTS        int64   `gorm:"not null;index"`
}

func (AlertRecord) TableName() string {
	return "alert_records"
}

// SuppressedAlert records one cascade rejection per (market, outcome, side, reason)
// within the dedup window, so repeated suppressions stay quiet.
type SuppressedAlert struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Market       string `gorm:"size:128;not null;index:idx_suppressed_key"`
	OutcomeIndex int    `gorm:"not null;index:idx_suppressed_key"`
	Side         string `gorm:"size:10;not null;index:idx_suppressed_key"`
	Reason       string `gorm:"size:48;not null;index:idx_suppressed_key"`
	WalletCount  int    `gorm:"not null"`
	CreatedTS    int64  `gorm:"not null;index"`
}

func (SuppressedAlert) TableName() string {
	return "suppressed_alerts"
}

// MarketTradeMark pins a wallet's first counted trade per (market, side).
// A marked wallet never contributes a second window event for that pair.
type MarketTradeMark struct {
	Address   string `gorm:"primaryKey;size:128"`
	Market    string `gorm:"primaryKey;size:128"`
	Side      string `gorm:"primaryKey;size:10"`
	TradeID   string `gorm:"size:128"`
	TradeTS   int64  `gorm:"not null"`
	CreatedTS int64  `gorm:"not null"`
}

func (MarketTradeMark) TableName() string {
	return "market_trade_marks"
}

// TradeCursor stores the newest seen trade id per (wallet, side) so the
// monitor stays incremental across restarts.
type TradeCursor struct {
	Address   string `gorm:"primaryKey;size:128"`
	Side      string `gorm:"primaryKey;size:10"`
	TradeID   string `gorm:"size:128;not null"`
	UpdatedTS int64  `gorm:"not null"`
}

func (TradeCursor) TableName() string {
	return "trade_cursors"
}

// BeforeCreate hooks for timestamps
func (j *AnalysisJob) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if j.CreatedTS == 0 {
		j.CreatedTS = now
	}
	if j.UpdatedTS == 0 {
		j.UpdatedTS = now
	}
	return nil
}

func (c *AnalysisCache) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedTS == 0 {
		c.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (w *TrackedWallet) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if w.AddedTS == 0 {
		w.AddedTS = now
	}
	if w.UpdatedTS == 0 {
		w.UpdatedTS = now
	}
	return nil
}

func (r *RollingWindow) BeforeCreate(tx *gorm.DB) error {
	if r.UpdatedTS == 0 {
		r.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.SentTS == 0 {
		a.SentTS = time.Now().Unix()
	}
	return nil
}

func (s *SuppressedAlert) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedTS == 0 {
		s.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (m *MarketTradeMark) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedTS == 0 {
		m.CreatedTS = time.Now().Unix()
	}
	return nil
}
