// Package notify pushes session events to operator channels (Telegram,
// Discord). Events are filtered by kind so operators receive only the
// alerts they care about; delivery failures are logged, never propagated
// into the session.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oskarw/simtrader/internal/domain"
)

// sendTimeout bounds one delivery attempt across all senders.
const sendTimeout = 10 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches session events to one or more Senders. It maintains a
// set of allowed event kinds; events of other kinds are ignored. An empty
// kind list allows everything.
type Notifier struct {
	senders []Sender
	kinds   map[string]bool
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier delivering to the given senders. Kind
// names are matched case-insensitively against the event kind (e.g. "fill",
// "server_error", "session_end").
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish implements domain.EventSink. Delivery runs on its own goroutine
// with its own timeout so the session hot path never waits on a webhook.
func (n *Notifier) Publish(_ context.Context, ev domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.kinds) > 0 && !n.kinds[strings.ToLower(string(ev.Kind))] {
		return nil
	}

	title, message := render(ev)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.dispatch(ctx, title, message)
	}()
	return nil
}

// dispatch iterates over all senders. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// render turns one event into a human-readable title and body.
func render(ev domain.Event) (string, string) {
	var title, body string

	switch ev.Kind {
	case domain.EventRegistered:
		title = "Session registered"
		body = fmt.Sprintf("run %s", ev.RunID)
	case domain.EventOrder:
		title = fmt.Sprintf("Order sent: %s %d @ %.2f", ev.Side, ev.Qty, ev.Price)
		body = fmt.Sprintf("%s (step %d, run %s)", ev.OrderID, ev.Step, ev.RunID)
	case domain.EventFill:
		title = fmt.Sprintf("Fill: %s %d @ %.2f", ev.Side, ev.Qty, ev.Price)
		body = fmt.Sprintf("%s (run %s)", ev.OrderID, ev.RunID)
		if ev.Account != nil {
			body += fmt.Sprintf("\ninventory %d | cash %.2f | pnl %.2f",
				ev.Account.Inventory, ev.Account.CashFlow, ev.Account.PnL)
		}
	case domain.EventServerError:
		title = "Exchange reported an error"
		body = fmt.Sprintf("%s (step %d, run %s)", ev.Message, ev.Step, ev.RunID)
	case domain.EventAnomaly:
		title = "Ledger anomaly"
		body = fmt.Sprintf("%s: %s (run %s)", ev.OrderID, ev.Message, ev.RunID)
	case domain.EventSessionEnd:
		title = "Session finished"
		body = fmt.Sprintf("run %s, last step %d", ev.RunID, ev.Step)
		if ev.Account != nil {
			body += fmt.Sprintf("\norders %d | fills %d | inventory %d | pnl %.2f",
				ev.Account.OrdersSent, ev.Account.Fills, ev.Account.Inventory, ev.Account.PnL)
		}
	default:
		title = string(ev.Kind)
		body = ev.Message
	}

	return title, body
}
