//go:build !linux

package paste

import "time"

const bondSettle time.Duration = 0
