// Package notify delivers human-readable position lifecycle notifications
// to chat channels (Telegram, Discord). Delivery is fire-and-forget from the
// engine's perspective: a sender failure is logged and never propagates into
// a trading cycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"papertrader/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "discord").
	Name() string
}

// Notifier dispatches formatted events to all registered senders, filtered
// by an allowed set of event types. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. events lists the
// event types to forward; empty means all.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Event formats and delivers one position lifecycle event, honoring the
// event filter. Errors are logged, never returned.
func (n *Notifier) Event(ctx context.Context, evt domain.Event) {
	if len(n.events) > 0 && !n.events[string(evt.Type)] {
		return
	}
	title, body := FormatEvent(evt)
	n.dispatch(ctx, title, body)
}

// Send delivers an arbitrary pre-formatted message, bypassing the event
// filter. Used for on-demand stats summaries.
func (n *Notifier) Send(ctx context.Context, title, message string) {
	n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one sender failing does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
		}
	}
}

// FormatEvent renders an event as a chat-friendly title and body.
func FormatEvent(evt domain.Event) (title, body string) {
	pos := evt.Position
	label := fmt.Sprintf("%s (%s)", pos.Symbol, pos.Chain)

	switch evt.Type {
	case domain.EventPositionOpened:
		title = "Position opened: " + label
		body = fmt.Sprintf("Entry $%s · size $%.2f · signal $%s",
			trimFloat(pos.EntryPrice), pos.Size, trimFloat(pos.SignalPrice))

	case domain.EventTrailingActivated:
		trail := 0.0
		if pos.TrailPrice != nil {
			trail = *pos.TrailPrice
		}
		title = "Trailing armed: " + label
		body = fmt.Sprintf("Price $%s · peak $%s · stop $%s",
			trimFloat(evt.Price), trimFloat(pos.PeakPrice), trimFloat(trail))

	case domain.EventPositionClosed:
		verb := "Stopped out"
		if pos.ExitReason == domain.ExitReasonTrail {
			verb = "Trail exit"
		}
		title = fmt.Sprintf("%s: %s", verb, label)
		body = fmt.Sprintf("Entry $%s → exit $%s · pnl %+.2f USD",
			trimFloat(pos.EntryPrice), trimFloat(pos.ExitPrice), pos.Pnl)

	default:
		title = string(evt.Type) + ": " + label
	}
	return title, body
}

// trimFloat renders a price without trailing zero noise; micro-cap tokens
// need the full precision, majors do not.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
