package reactor

import (
	"time"

	"github.com/flux-framework/flux-core-go/cmn/mono"
)

// Run drives the loop: each iteration runs prepare callbacks, waits for the
// next event (an fd/signal/child closure arriving on r.events, a due timer,
// or idle callbacks if nothing else is due), then runs check callbacks. The
// loop exits when no watcher is both active and referenced, when
// Stop/StopError is called, or after a single iteration if RunOnce or
// RunNoWait is set.
//
// now() is refreshed once per iteration, before prepare, so every callback
// in the same iteration observes the same value.
func (r *Reactor) Run(flags RunFlags) (int, error) {
	r.running = true
	r.stopReq = false
	r.errStop = nil
	defer func() { r.running = false }()

	for {
		r.nowNS = mono.NanoTime()
		runPrepare(r)

		if r.stopReq {
			break
		}
		if r.pending() == 0 {
			break
		}

		r.waitOnce(flags)

		runCheck(r)

		if flags&(RunOnce|RunNoWait) != 0 || r.stopReq {
			break
		}
	}

	if r.errStop != nil {
		return r.pending(), r.errStop
	}
	return r.pending(), nil
}

// waitOnce blocks (or polls, per flags) for exactly one dispatch: either an
// event-channel closure runs, or a due timer fires, or -- if nothing else is
// ready and idle watchers exist -- idle callbacks run.
func (r *Reactor) waitOnce(flags RunFlags) {
	wait := r.nextWait(flags)

	if wait < 0 {
		ev := <-r.events
		ev()
		return
	}

	timer := time.NewTimer(wait)
	select {
	case ev := <-r.events:
		timer.Stop()
		ev()
	case <-timer.C:
		if !r.fireDueTimers() && len(r.idle) > 0 {
			runIdle(r)
		}
	}
}

// nextWait returns how long waitOnce should poll before giving idle
// watchers or due timers a chance: -1 means block indefinitely on events.
func (r *Reactor) nextWait(flags RunFlags) time.Duration {
	if flags&RunNoWait != 0 {
		return 0
	}
	if len(r.idle) > 0 {
		return 0
	}
	if w := r.timers.peek(); w != nil {
		if d := time.Until(w.deadline); d > 0 {
			return d
		}
		return 0
	}
	return -1
}

// fireDueTimers fires every timer whose deadline has passed, returning
// whether any fired.
func (r *Reactor) fireDueTimers() bool {
	fired := false
	now := time.Now()
	for {
		w := r.timers.peek()
		if w == nil || w.deadline.After(now) {
			return fired
		}
		w.fire()
		fired = true
	}
}
