package watcher

import (
	"context"
	"fmt"

	"ctawatch/internal/feed"
	"ctawatch/internal/kit"
	"ctawatch/internal/storage"
	logx "ctawatch/pkg/logx"
)

type deliveryResult struct {
	recipient int64
	err       error
}

// deliver fans one alert out to every eligible recipient and returns the
// number of successful sends. Failures are isolated per recipient; the call
// blocks until every attempt has resolved so the returned count is exact.
// Zero is a valid result and still marks the alert as announced.
//
// The recipient read happens here, once per alert needing delivery; a
// directory failure aborts only this alert's processing.
func (s *Service) deliver(ctx context.Context, a feed.Alert) (int, error) {
	recipients, err := s.store.SubscribedRecipients(ctx)
	if err != nil {
		return 0, fmt.Errorf("recipient directory: %w", err)
	}

	eligible := make([]storage.Recipient, 0, len(recipients))
	for _, r := range recipients {
		// The directory only returns opted-in rows, but eligibility is
		// enforced here regardless; a missing channel excludes the recipient.
		if r.HasAlerts && r.AlertChannel != nil {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	text := RenderMessage(a)

	s.mu.Lock()
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	results := make(chan deliveryResult, len(eligible))
	for _, r := range eligible {
		go func(r storage.Recipient) {
			var err error
			if lim != nil {
				err = lim.Wait(ctx)
			}
			if err == nil {
				_, err = sender.SendText(ctx,
					kit.ChatTarget{ChatID: *r.AlertChannel},
					text,
					&kit.SendOptions{DisablePreview: true},
				)
			}
			results <- deliveryResult{recipient: r.RecipientID, err: err}
		}(r)
	}

	// Join: every attempt resolves before the count is computed.
	ok := 0
	for range eligible {
		res := <-results
		if res.err != nil {
			s.metrics.DeliveryError()
			s.log.Warn("alert delivery failed",
				logx.Int("alert_id", a.ID),
				logx.Int64("recipient", res.recipient),
				logx.Err(res.err),
			)
			continue
		}
		s.metrics.DeliveryOK()
		ok++
	}
	return ok, nil
}
