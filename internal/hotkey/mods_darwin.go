package hotkey

import "golang.design/x/hotkey"

const (
	modCtrl  = hotkey.ModCtrl
	modAlt   = hotkey.ModOption
	modShift = hotkey.ModShift
	modSuper = hotkey.ModCmd
)
