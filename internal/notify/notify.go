// Package notify turns failed and degraded dictation outcomes into localized
// desktop notifications.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/MrWong99/sflow/internal/dictation"
)

// Title is the notification title.
const Title = "S-Flow"

// Option configures a [Notifier].
type Option func(*Notifier)

// WithLocale sets the message language.
func WithLocale(l Locale) Option {
	return func(n *Notifier) { n.locale = l }
}

// WithEnabled turns desktop notifications on or off. Disabled notifiers
// still log.
func WithEnabled(enabled bool) Option {
	return func(n *Notifier) { n.enabled = enabled }
}

// Notifier shows one desktop notification per failed or degraded outcome.
// It implements [dictation.Notifier].
type Notifier struct {
	mu      sync.Mutex
	locale  Locale
	enabled bool
	send    func(title, message string) error
}

var _ dictation.Notifier = (*Notifier)(nil)

// New returns an enabled Notifier using [DefaultLocale].
func New(opts ...Option) *Notifier {
	n := &Notifier{
		locale:  DefaultLocale,
		enabled: true,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Configure updates locale and enablement. Used on config reload.
func (n *Notifier) Configure(l Locale, enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locale = l
	n.enabled = enabled
}

// Notify implements [dictation.Notifier]. Successful and cancelled outcomes
// are ignored.
func (n *Notifier) Notify(o dictation.Outcome) {
	if o.State != dictation.Failed && !o.Warning() {
		return
	}
	n.mu.Lock()
	locale, enabled, send := n.locale, n.enabled, n.send
	n.mu.Unlock()

	msg := Message(locale, o.Kind)
	slog.Info("notify: outcome", "seq", o.Seq, "kind", o.Kind, "message", msg)
	if !enabled {
		return
	}
	if err := send(Title, msg); err != nil {
		slog.Warn("notify: desktop notification failed", "err", err)
	}
}
