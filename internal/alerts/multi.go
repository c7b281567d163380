package alerts

import (
	"context"
	"fmt"
)

// MultiSender fans out to multiple delivery channels
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
	}
}

// SendAlert sends the alert to all configured senders
func (s *MultiSender) SendAlert(ctx context.Context, alert *Alert) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.SendAlert(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multi-sender errors: %v", errs)
	}
	return nil
}

// SendSuppressed sends the suppression notice to all configured senders
func (s *MultiSender) SendSuppressed(ctx context.Context, supp *Suppressed) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.SendSuppressed(ctx, supp); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multi-sender errors: %v", errs)
	}
	return nil
}

// SendReport sends the report to all configured senders
func (s *MultiSender) SendReport(ctx context.Context, report *Report) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.SendReport(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multi-sender errors: %v", errs)
	}
	return nil
}
