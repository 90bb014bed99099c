// Package reactor implements the single-threaded cooperative scheduler that
// drives the overlay and every service built on top of it: one reactor per
// broker, a handful of watcher kinds (fd, timer, signal, prepare/check/idle,
// child), and the ref/active bookkeeping that decides when the loop may
// exit.
//
// Every watcher callback the reactor invokes runs on the reactor's own
// goroutine, one at a time, to completion -- the model section 5 calls "no
// locking": state owned by a reactor is mutated only from that reactor's own
// callbacks. Feeder goroutines (os/signal delivery, an fd's readiness,
// SIGCHLD reaping) never touch that state directly; they hand the reactor a
// closure to run, the same "channel carries the instruction, the loop
// executes it" idiom aistore's stream collector uses for its own
// ticker+control-channel select loop. Timers have no feeder goroutine: due
// timers fire on the reactor goroutine inside the loop's wait step.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package reactor

import (
	ratomic "sync/atomic"

	"github.com/flux-framework/flux-core-go/stats"
)

// Flags configure a Reactor at creation time.
type Flags uint8

const (
	// FlagChild enables the shared SIGCHLD watcher required by child
	// watchers; creating a child watcher on a reactor without this flag is
	// an invalid-argument error.
	FlagChild Flags = 0x01
)

// RunFlags control a single call to Run.
type RunFlags uint8

const (
	RunDefault RunFlags = 0
	// RunNoWait polls once for already-ready events and returns without
	// blocking.
	RunNoWait RunFlags = 0x01
	// RunOnce runs at most one round of dispatch (blocking if necessary)
	// then returns, instead of looping until no referenced watcher remains.
	RunOnce RunFlags = 0x02
)

// Reactor is the event loop. Exactly one goroutine ever executes inside Run
// for a given Reactor at a time.
type Reactor struct {
	refcnt int32
	flags  Flags

	running  bool
	stopReq  bool
	errStop  error
	quiesced bool

	watchers map[uint64]*base
	nextID   uint64

	// events carries ready-to-run watcher callbacks from feeder goroutines
	// (signal, fd, child, and Post callers) into the reactor goroutine.
	events chan func()

	timers   *timerHeap
	prepare  []phaseEntry
	check    []phaseEntry
	idle     []phaseEntry
	childTab *childTable

	nowNS int64

	// Stats, if set, receives the pending-watcher gauge every time pending
	// is recomputed (once per Run iteration boundary). nil disables it.
	Stats *stats.Registry
}

// Create returns a new Reactor with refcount 1.
func Create(flags Flags) *Reactor {
	r := &Reactor{
		refcnt:   1,
		flags:    flags,
		watchers: make(map[uint64]*base),
		events:   make(chan func(), 64),
		timers:   newTimerHeap(),
	}
	return r
}

func (r *Reactor) Incref() { ratomic.AddInt32(&r.refcnt, 1) }

func (r *Reactor) Decref() bool {
	if ratomic.AddInt32(&r.refcnt, -1) > 0 {
		return false
	}
	r.Destroy()
	return true
}

func (r *Reactor) Destroy() {
	if r.childTab != nil {
		r.childTab.teardown()
	}
}

func (r *Reactor) register(w *base) uint64 {
	r.nextID++
	id := r.nextID
	w.id = id
	w.reactor = r
	r.watchers[id] = w
	return id
}

// now returns the cached "now" timestamp, updated once per loop iteration
// (section 4.B): watcher callbacks that need wall-clock time during a single
// iteration all see the same value.
func (r *Reactor) now() int64 { return r.nowNS }

// Post hands f to the reactor goroutine, the same "channel carries the
// instruction, the loop executes it" idiom childTable.reap uses to marshal a
// SIGCHLD reap back onto the loop. Service code whose asynchronous work
// completes on a foreign goroutine (housekeeping's external script
// continuation, an overlay transport's read loop) must call Post rather
// than touching reactor-owned state directly, preserving section 5's "no
// locking" invariant.
func (r *Reactor) Post(f func()) { r.events <- f }

// pending returns the number of watchers that are both active and
// referenced: the count Run returns, and the condition that keeps the loop
// alive.
func (r *Reactor) pending() int {
	n := 0
	for _, w := range r.watchers {
		if w.active && w.referenced {
			n++
		}
	}
	if r.Stats != nil {
		r.Stats.ReactorPendingWatchers.Set(float64(n))
	}
	return n
}

// Stop breaks the loop cleanly at the next iteration boundary.
func (r *Reactor) Stop() { r.stopReq = true }

// StopError breaks the loop and causes the in-flight Run to return err.
func (r *Reactor) StopError(err error) {
	r.stopReq = true
	r.errStop = err
}
