// Package hotkey parses key combinations such as "ctrl+alt+s", registers them
// as system-wide hotkeys and turns key presses into dictation actions.
package hotkey

import (
	"errors"
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// ErrInvalidCombo is returned by [Parse] for malformed combinations.
var ErrInvalidCombo = errors.New("hotkey: invalid combination")

// Combo is a parsed key combination: zero or more modifiers and one key.
type Combo struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Super bool

	// Key is the lower-case key name, e.g. "s", "f5", "space".
	Key string
}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
	"super":   "super",
	"win":     "super",
	"cmd":     "super",
	"meta":    "super",
}

var keyAliases = map[string]string{
	"return": "enter",
	"esc":    "escape",
	"del":    "delete",
}

// Parse reads a combination written as modifiers and one key joined by "+".
// Matching is case-insensitive and ignores surrounding spaces.
func Parse(s string) (Combo, error) {
	var c Combo
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) == 0 || strings.TrimSpace(s) == "" {
		return c, fmt.Errorf("%w: empty", ErrInvalidCombo)
	}
	for i, raw := range parts {
		p := strings.TrimSpace(raw)
		if p == "" {
			return Combo{}, fmt.Errorf("%w: %q has an empty part", ErrInvalidCombo, s)
		}
		last := i == len(parts)-1
		if mod, ok := modifierAliases[p]; ok && !last {
			switch mod {
			case "ctrl":
				c.Ctrl = true
			case "alt":
				c.Alt = true
			case "shift":
				c.Shift = true
			case "super":
				c.Super = true
			}
			continue
		}
		if !last {
			return Combo{}, fmt.Errorf("%w: %q: %q is not a modifier", ErrInvalidCombo, s, p)
		}
		if alias, ok := keyAliases[p]; ok {
			p = alias
		}
		if _, ok := keys[p]; !ok {
			return Combo{}, fmt.Errorf("%w: %q: unknown key %q", ErrInvalidCombo, s, p)
		}
		c.Key = p
	}
	return c, nil
}

// String returns the canonical form, modifiers in ctrl, alt, shift, super
// order.
func (c Combo) String() string {
	var parts []string
	if c.Ctrl {
		parts = append(parts, "ctrl")
	}
	if c.Alt {
		parts = append(parts, "alt")
	}
	if c.Shift {
		parts = append(parts, "shift")
	}
	if c.Super {
		parts = append(parts, "super")
	}
	return strings.Join(append(parts, c.Key), "+")
}

// modifiers maps c onto the platform's modifier set.
func (c Combo) modifiers() []hotkey.Modifier {
	var mods []hotkey.Modifier
	if c.Ctrl {
		mods = append(mods, modCtrl)
	}
	if c.Alt {
		mods = append(mods, modAlt)
	}
	if c.Shift {
		mods = append(mods, modShift)
	}
	if c.Super {
		mods = append(mods, modSuper)
	}
	return mods
}

var keys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,

	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,

	"space":  hotkey.KeySpace,
	"enter":  hotkey.KeyReturn,
	"escape": hotkey.KeyEscape,
	"delete": hotkey.KeyDelete,
	"tab":    hotkey.KeyTab,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
}
