// Package paste delivers text to the focused application by writing it to the
// system clipboard and sending a synthetic Ctrl+V.
package paste

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// DefaultDelay is the pause between the clipboard write and the keystroke.
// Slow applications miss the new clipboard contents with shorter waits.
const DefaultDelay = 200 * time.Millisecond

// Option configures a [Paster].
type Option func(*Paster)

// WithDelay sets the pause between the clipboard write and Ctrl+V.
func WithDelay(d time.Duration) Option {
	return func(p *Paster) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithRestore puts the previous clipboard contents back after pasting.
func WithRestore(restore bool) Option {
	return func(p *Paster) { p.restore = restore }
}

// Paster writes text to the clipboard and pastes it. Pastes are serialized.
type Paster struct {
	delay   time.Duration
	restore bool

	mu     sync.Mutex
	read   func() (string, error)
	write  func(string) error
	stroke func(ctx context.Context) error

	// The key bonding is created on the first paste and reused. On Linux it
	// is a uinput device that ignores keys until readyAt.
	bond    launcher
	readyAt time.Time
	newBond func() (launcher, error)
	settle  time.Duration
}

type launcher interface {
	Launching() error
}

// New returns a Paster using the system clipboard and keyboard.
func New(opts ...Option) *Paster {
	p := &Paster{
		delay: DefaultDelay,
		read:    clipboard.ReadAll,
		write:   clipboard.WriteAll,
		newBond: newCtrlV,
		settle:  bondSettle,
	}
	p.stroke = p.ctrlV
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetDelay changes the paste delay. Used on config reload.
func (p *Paster) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d >= 0 {
		p.delay = d
	}
}

// SetRestore toggles clipboard restoration. Used on config reload.
func (p *Paster) SetRestore(restore bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restore = restore
}

// Paste writes text to the clipboard, waits the paste delay and sends Ctrl+V.
// Empty text is skipped. The wait aborts when ctx is done.
func (p *Paster) Paste(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev string
	if p.restore {
		var err error
		if prev, err = p.read(); err != nil {
			slog.Debug("paste: read clipboard", "err", err)
		}
	}

	if err := p.write(text); err != nil {
		return fmt.Errorf("paste: write clipboard: %w", err)
	}
	if err := sleep(ctx, p.delay); err != nil {
		return err
	}
	if err := p.stroke(ctx); err != nil {
		return fmt.Errorf("paste: send ctrl+v: %w", err)
	}
	slog.Debug("paste: text pasted", "runes", len([]rune(text)))

	if p.restore && prev != "" {
		if err := sleep(ctx, p.delay); err != nil {
			return err
		}
		if err := p.write(prev); err != nil {
			slog.Warn("paste: restore clipboard", "err", err)
		}
	}
	return nil
}

// ctrlV sends Ctrl+V through the shared key bonding, creating it on first
// use. Callers hold p.mu.
func (p *Paster) ctrlV(ctx context.Context) error {
	if p.bond == nil {
		b, err := p.newBond()
		if err != nil {
			return err
		}
		p.bond = b
		p.readyAt = time.Now().Add(p.settle)
	}
	if err := sleep(ctx, time.Until(p.readyAt)); err != nil {
		return err
	}
	return p.bond.Launching()
}

func newCtrlV() (launcher, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, err
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	return &kb, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
