// Package globaltime is the process clock. Run timestamps, window cutoffs
// and audit rows read it so tests can pin time.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	fixed *time.Time
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if fixed != nil {
		return *fixed
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime freezes the clock at t until ResetTime.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	frozen := t
	fixed = &frozen
}

// Advance moves a frozen clock forward. It does nothing on the real clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if fixed != nil {
		next := fixed.Add(d)
		fixed = &next
	}
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	fixed = nil
}
