package reactor

// phaseEntry pairs a registered watcher with the callback it fires; used for
// the three phase-watcher kinds below, which the loop invokes by direct
// iteration rather than via the events channel.
type phaseEntry struct {
	b  *base
	cb func()
}

func removeEntry(s []phaseEntry, target *base) []phaseEntry {
	for i, e := range s {
		if e.b == target {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// PrepareWatcher, CheckWatcher and IdleWatcher fire at fixed phases of every
// loop iteration (section 4.B): prepare right before blocking for events,
// check right after dispatch, idle only when the iteration would otherwise
// block with nothing else to do.
type PrepareWatcher struct {
	*base
	cb func()
}

func NewPrepareWatcher(r *Reactor, cb func()) *PrepareWatcher {
	w := &PrepareWatcher{base: newBase(r, "prepare"), cb: cb}
	w.onStart = func() { r.prepare = append(r.prepare, phaseEntry{w.base, cb}) }
	w.onStop = func() { r.prepare = removeEntry(r.prepare, w.base) }
	return w
}

type CheckWatcher struct {
	*base
	cb func()
}

func NewCheckWatcher(r *Reactor, cb func()) *CheckWatcher {
	w := &CheckWatcher{base: newBase(r, "check"), cb: cb}
	w.onStart = func() { r.check = append(r.check, phaseEntry{w.base, cb}) }
	w.onStop = func() { r.check = removeEntry(r.check, w.base) }
	return w
}

type IdleWatcher struct {
	*base
	cb func()
}

func NewIdleWatcher(r *Reactor, cb func()) *IdleWatcher {
	w := &IdleWatcher{base: newBase(r, "idle"), cb: cb}
	w.onStart = func() { r.idle = append(r.idle, phaseEntry{w.base, cb}) }
	w.onStop = func() { r.idle = removeEntry(r.idle, w.base) }
	return w
}

func runPrepare(r *Reactor) {
	for _, e := range r.prepare {
		e.cb()
	}
}

func runCheck(r *Reactor) {
	for _, e := range r.check {
		e.cb()
	}
}

func runIdle(r *Reactor) {
	for _, e := range r.idle {
		e.cb()
	}
}
