// Package notifier formats alert and event-status emails and hands them to a
// Transport.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

type Notifier struct {
	transport Transport
	dashboard string
	log       zerolog.Logger
	now       func() time.Time
}

func New(t Transport, dashboardURL string) *Notifier {
	if dashboardURL == "" {
		dashboardURL = "http://localhost:5173/events"
	}
	return &Notifier{transport: t, dashboard: dashboardURL, log: logger.For("notifier"), now: time.Now}
}

func (n *Notifier) SendAlert(ctx context.Context, to string, a AlertNotice) error {
	if a.At.IsZero() {
		a.At = n.now()
	}
	subject, body, err := renderAlert(a)
	if err != nil {
		return fmt.Errorf("render alert: %w", err)
	}
	if err := n.transport.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send alert to %s: %w", to, err)
	}
	n.log.Info().Str("to", to).Str("type", string(a.Type)).Str("zone", a.ZoneName).Msg("alert email sent")
	return nil
}

func (n *Notifier) SendStatus(ctx context.Context, to string, s StatusNotice) error {
	if s.At.IsZero() {
		s.At = n.now()
	}
	subject, body, err := renderStatus(s, n.dashboard)
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}
	if err := n.transport.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send status to %s: %w", to, err)
	}
	n.log.Info().Str("to", to).Str("status", s.Status).Str("event", s.EventName).Msg("status email sent")
	return nil
}
