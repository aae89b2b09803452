package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/hotkey"
)

// Default combinations.
const (
	DefaultDictate   = "ctrl+alt+s"
	DefaultTranslate = "ctrl+alt+t"
	DefaultCancel    = "ctrl+alt+x"
)

// Action is what a hotkey press asks the pipeline to do.
type Action int

const (
	ActionDictate Action = iota + 1
	ActionTranslate
	ActionCancel
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionDictate:
		return "dictate"
	case ActionTranslate:
		return "translate"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Bindings holds the combination string for each action.
type Bindings struct {
	Dictate   string
	Translate string
	Cancel    string
}

// DefaultBindings returns the built-in combinations.
func DefaultBindings() Bindings {
	return Bindings{Dictate: DefaultDictate, Translate: DefaultTranslate, Cancel: DefaultCancel}
}

// Parse validates every binding and returns them keyed by action. Two
// actions bound to the same combination are rejected.
func (b Bindings) Parse() (map[Action]Combo, error) {
	out := make(map[Action]Combo, 3)
	seen := make(map[string]Action, 3)
	var errs []error
	for _, e := range []struct {
		a Action
		s string
	}{
		{ActionDictate, b.Dictate},
		{ActionTranslate, b.Translate},
		{ActionCancel, b.Cancel},
	} {
		c, err := Parse(e.s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.a, err))
			continue
		}
		if prev, dup := seen[c.String()]; dup {
			errs = append(errs, fmt.Errorf("%w: %s and %s share %q", ErrInvalidCombo, prev, e.a, c))
			continue
		}
		seen[c.String()] = e.a
		out[e.a] = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// registration is a live system hotkey.
type registration interface {
	Keydown() <-chan hotkey.Event
	Unregister() error
}

// Listener registers the configured hotkeys and reports presses on
// [Listener.Actions].
type Listener struct {
	combos   map[Action]Combo
	actions  chan Action
	register func(Combo) (registration, error)
}

// NewListener parses b. Nothing is registered until [Listener.Run].
func NewListener(b Bindings) (*Listener, error) {
	combos, err := b.Parse()
	if err != nil {
		return nil, err
	}
	return &Listener{
		combos:   combos,
		actions:  make(chan Action, 8),
		register: registerSystem,
	}, nil
}

// Actions returns the channel of hotkey presses.
func (l *Listener) Actions() <-chan Action { return l.actions }

// Run registers every hotkey and forwards presses until ctx is done, then
// unregisters them. A registration failure releases the hotkeys already
// registered and is returned immediately.
func (l *Listener) Run(ctx context.Context) error {
	regs := make(map[Action]registration, len(l.combos))
	release := func() {
		for a, r := range regs {
			if err := r.Unregister(); err != nil {
				slog.Warn("hotkey: unregister", "action", a, "err", err)
			}
		}
	}

	for _, a := range []Action{ActionDictate, ActionTranslate, ActionCancel} {
		c, ok := l.combos[a]
		if !ok {
			continue
		}
		r, err := l.register(c)
		if err != nil {
			release()
			return fmt.Errorf("hotkey: register %s (%s): %w", a, c, err)
		}
		regs[a] = r
		slog.Info("hotkey: registered", "action", a, "combo", c.String())
	}

	var wg sync.WaitGroup
	for a, r := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.forward(ctx, a, r.Keydown())
		}()
	}

	<-ctx.Done()
	release()
	wg.Wait()
	return nil
}

func (l *Listener) forward(ctx context.Context, a Action, events <-chan hotkey.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			select {
			case l.actions <- a:
			case <-ctx.Done():
				return
			default:
				slog.Warn("hotkey: action dropped, control loop busy", "action", a)
			}
		}
	}
}

func registerSystem(c Combo) (registration, error) {
	hk := hotkey.New(c.modifiers(), keys[c.Key])
	if err := hk.Register(); err != nil {
		return nil, err
	}
	return hk, nil
}
