package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// SendAlert logs the consensus alert
func (s *LogSender) SendAlert(ctx context.Context, alert *Alert) error {
	wallets := make([]string, 0, len(alert.Wallets))
	for _, w := range alert.Wallets {
		wallets = append(wallets, w.Short)
	}
	s.log.WithFields(logrus.Fields{
		"market":       alert.Market,
		"title":        alert.MarketTitle,
		"outcome":      alert.OutcomeIndex,
		"side":         alert.Side,
		"wallet_count": alert.WalletCount,
		"wallets":      wallets,
		"price":        alert.Price,
		"price_known":  alert.PriceKnown,
		"total_usd":    alert.TotalUSD,
		"repeat":       alert.IsRepeat,
	}).Info("Consensus alert")
	return nil
}

// SendSuppressed logs a suppressed consensus candidate
func (s *LogSender) SendSuppressed(ctx context.Context, supp *Suppressed) error {
	s.log.WithFields(logrus.Fields{
		"market":       supp.Market,
		"outcome":      supp.OutcomeIndex,
		"side":         supp.Side,
		"reason":       supp.Reason,
		"wallet_count": supp.WalletCount,
	}).Info("Consensus suppressed")
	return nil
}

// SendReport logs the periodic counters
func (s *LogSender) SendReport(ctx context.Context, report *Report) error {
	s.log.WithFields(logrus.Fields{
		"tracked_wallets": report.TrackedWallets,
		"queue":           report.QueueStats,
		"alerts_sent":     report.AlertsSent,
		"suppressions":    report.Suppressions,
	}).Info("Operational report")
	return nil
}
