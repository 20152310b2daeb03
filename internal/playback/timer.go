package playback

import (
	"sync"
	"time"
)

// PollTimer holds the single outstanding reconciliation tick. Arming stops
// the previous timer first; a generation counter turns a timer that already
// fired but lost the race into a no-op.
type PollTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	delay time.Duration
	armed bool
}

// Arm schedules fn after d, replacing any pending tick.
func (p *PollTimer) Arm(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.delay = d
	p.armed = true
	p.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.armed = false
		p.timer = nil
		p.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending tick, if any.
func (p *PollTimer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.armed = false
}

// Pending returns the delay of the armed tick.
func (p *PollTimer) Pending() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay, p.armed
}
