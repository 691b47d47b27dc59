package game

import "time"

// Gameplay timers belong to the epoch they were scheduled in. Any phase
// change bumps the epoch and stops them; a callback that was already
// queued sees the mismatch and returns.

func (h *Host) afterLocked(d time.Duration, fn func()) {
	epoch := h.epoch
	h.timerSeq++
	id := h.timerSeq

	h.timers[id] = h.clock.AfterFunc(d, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.timers, id)
		if h.closed || h.epoch != epoch {
			return
		}
		fn()
		h.flushLocked()
	})
}

func (h *Host) everyLocked(d time.Duration, fn func()) {
	epoch := h.epoch
	var tick func()
	tick = func() {
		fn()
		if h.epoch == epoch {
			h.afterLocked(d, tick)
		}
	}
	h.afterLocked(d, tick)
}

func (h *Host) stopTimersLocked() {
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.epoch++
}

func (h *Host) pendingTimers() int {
	return len(h.timers)
}
