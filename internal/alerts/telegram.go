package alerts

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers alerts to a Telegram chat
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender creates a Telegram sender
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{api: api, chatID: chatID}, nil
}

// SendAlert formats and delivers a consensus alert
func (s *TelegramSender) SendAlert(ctx context.Context, alert *Alert) error {
	return s.send(formatAlert(alert))
}

// SendSuppressed delivers a one-line suppression notice
func (s *TelegramSender) SendSuppressed(ctx context.Context, supp *Suppressed) error {
	text := fmt.Sprintf("🔇 Suppressed %s consensus on <code>%s</code> outcome %d: %s (%d wallets)",
		supp.Side, html.EscapeString(supp.Market), supp.OutcomeIndex, supp.Reason, supp.WalletCount)
	return s.send(text)
}

// SendReport delivers the periodic counter summary
func (s *TelegramSender) SendReport(ctx context.Context, report *Report) error {
	var b strings.Builder
	b.WriteString("📊 <b>consensuswatch report</b>\n")
	fmt.Fprintf(&b, "Tracked wallets: %d\n", report.TrackedWallets)
	fmt.Fprintf(&b, "Alerts sent: %d\n", report.AlertsSent)
	for status, n := range report.QueueStats {
		fmt.Fprintf(&b, "Queue %s: %d\n", status, n)
	}
	for reason, n := range report.Suppressions {
		fmt.Fprintf(&b, "Suppressed %s: %d\n", reason, n)
	}
	return s.send(b.String())
}

func (s *TelegramSender) send(text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func formatAlert(alert *Alert) string {
	var b strings.Builder

	header := "🚨 <b>Consensus signal</b>"
	if alert.IsRepeat {
		header = "🔁 <b>Consensus signal (position doubled)</b>"
	}
	b.WriteString(header + "\n")

	title := alert.MarketTitle
	if title == "" {
		title = alert.Market
	}
	fmt.Fprintf(&b, "Market: %s\n", html.EscapeString(title))
	if alert.MarketSlug != "" {
		fmt.Fprintf(&b, "https://polymarket.com/market/%s\n", alert.MarketSlug)
	}
	fmt.Fprintf(&b, "Side: <b>%s</b> outcome %d\n", alert.Side, alert.OutcomeIndex)
	if alert.PriceKnown {
		fmt.Fprintf(&b, "Price: %.3f\n", alert.Price)
	} else {
		b.WriteString("Price: unknown\n")
	}
	fmt.Fprintf(&b, "Total position: $%.0f across %d wallets\n", alert.TotalUSD, alert.WalletCount)

	for _, w := range alert.Wallets {
		fmt.Fprintf(&b, "• <code>%s</code> $%.0f @ %.3f (%s)\n",
			w.Short, w.USDNotional, w.Price, w.Timestamp.UTC().Format("15:04:05"))
	}

	return b.String()
}
