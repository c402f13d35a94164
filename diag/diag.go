// Package diag reports failures that should not stop the trainer but need to
// be seen. Every failure is logged; the notification sink is rate limited.
package diag

import (
	"fmt"
	"sync"
	"time"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const DefaultCooldown = 30 * time.Second

// Notifier surfaces a failure to the user, e.g. a console banner
type Notifier func(title, message string)

type Reporter struct {
	mu         sync.Mutex
	cooldown   time.Duration
	last       time.Time
	suppressed int
	notify     Notifier
	now        func() time.Time
	log        *logger.Logger
}

func New(cooldown time.Duration, notify Notifier) *Reporter {
	return &Reporter{
		cooldown: cooldown,
		notify:   notify,
		now:      time.Now,
		log:      logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.Black, "diag")),
	}
}

// SetClock replaces the time source
func (r *Reporter) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Failf reports a failure. A nil Reporter discards it.
func (r *Reporter) Failf(format string, args ...any) {
	if r == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	r.log.Warn("assertion failed: ", msg)

	r.mu.Lock()
	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.cooldown {
		r.suppressed++
		r.mu.Unlock()
		return
	}
	suppressed := r.suppressed
	r.suppressed = 0
	r.last = now
	notify := r.notify
	r.mu.Unlock()

	if suppressed > 0 {
		msg = fmt.Sprintf("%s (%d more since last report)", msg, suppressed)
	}
	if notify != nil {
		notify("Assertion failed", msg)
	}
}

// Assert reports a failure when cond is false and returns cond
func (r *Reporter) Assert(cond bool, format string, args ...any) bool {
	if !cond {
		r.Failf(format, args...)
	}
	return cond
}
