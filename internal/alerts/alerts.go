package alerts

import (
	"context"
	"time"
)

// WalletEntry is one wallet's contribution to a consensus alert
type WalletEntry struct {
	Address     string
	Short       string // shortened for display
	Price       float64
	USDNotional float64
	Timestamp   time.Time
}

// Alert is a fully validated consensus signal ready for delivery
type Alert struct {
	Market       string
	MarketTitle  string
	MarketSlug   string
	OutcomeIndex int
	Side         string
	Price        float64
	PriceKnown   bool
	WalletCount  int
	TotalUSD     float64
	IsRepeat     bool
	Wallets      []WalletEntry
	WindowFirst  time.Time
	WindowLast   time.Time
	Environment  string
}

// Suppressed describes a cascade rejection worth surfacing once
type Suppressed struct {
	Market       string
	OutcomeIndex int
	Side         string
	Reason       string
	WalletCount  int
}

// Report carries periodic operational counters
type Report struct {
	TrackedWallets int64
	QueueStats     map[string]int64
	AlertsSent     int64
	Suppressions   map[string]int64
	GeneratedAt    time.Time
}

// Sender defines the interface for alert delivery channels
type Sender interface {
	SendAlert(ctx context.Context, alert *Alert) error
	SendSuppressed(ctx context.Context, supp *Suppressed) error
	SendReport(ctx context.Context, report *Report) error
}

// ShortenAddress abbreviates a wallet address for display
func ShortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
