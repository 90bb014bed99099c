package reactor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

// childTable is the process-wide pid->watcher map and shared SIGCHLD
// handler described in section 4.B and section 9 ("process-wide shared
// state for SIGCHLD"): lazily created on the first child watcher's Start,
// torn down when the last one stops. One table per Reactor created with
// FlagChild, since reaping is scoped to the watchers registered on that
// reactor.
type childTable struct {
	mu     sync.Mutex
	byPID  map[int]*ChildWatcher
	sigCh  chan os.Signal
	stopCh chan struct{}
	refcnt int
}

func (r *Reactor) childTableRef() *childTable {
	if r.childTab == nil {
		r.childTab = &childTable{byPID: make(map[int]*ChildWatcher)}
	}
	ct := r.childTab
	ct.refcnt++
	if ct.refcnt == 1 {
		ct.sigCh = make(chan os.Signal, 1)
		ct.stopCh = make(chan struct{})
		signal.Notify(ct.sigCh, syscall.SIGCHLD)
		go ct.loop(r)
	}
	return ct
}

func (ct *childTable) unref(r *Reactor) {
	ct.refcnt--
	if ct.refcnt == 0 {
		signal.Stop(ct.sigCh)
		close(ct.stopCh)
		r.childTab = nil
	}
}

func (ct *childTable) teardown() {
	if ct.refcnt > 0 {
		signal.Stop(ct.sigCh)
		close(ct.stopCh)
		ct.refcnt = 0
	}
}

func (ct *childTable) loop(r *Reactor) {
	for {
		select {
		case <-ct.sigCh:
			ct.reap(r)
		case <-ct.stopCh:
			return
		}
	}
}

// reap does the waitpid(-1, ..., WNOHANG|WUNTRACED|WCONTINUED) loop section
// 4.B describes, handing each reaped pid's watcher a closure to run on the
// reactor goroutine.
func (ct *childTable) reap(r *Reactor) {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG|syscall.WUNTRACED|syscall.WCONTINUED, nil)
		if err != nil || pid <= 0 {
			return
		}
		ct.mu.Lock()
		w, ok := ct.byPID[pid]
		ct.mu.Unlock()
		if !ok {
			continue
		}
		rpid, rstatus := pid, int(ws)
		select {
		case r.events <- func() {
			w.rpid, w.rstatus = rpid, rstatus
			w.pendingRevents = true
		}:
		case <-ct.stopCh:
			return
		}
	}
}

// ChildWatcher fires cb(pid, status) when the watched pid is reaped. It is
// implemented, per section 9, as a composition of three internal watchers
// rather than inheritance: a prepare watcher arms idle when a reap is
// pending, an idle watcher keeps the loop from blocking, and a check watcher
// invokes the callback and clears the pending state.
type ChildWatcher struct {
	*base
	pid int
	cb  func(pid, status int)

	prepare *PrepareWatcher
	check   *CheckWatcher
	idle    *IdleWatcher

	pendingRevents bool
	rpid           int
	rstatus        int
}

func NewChildWatcher(r *Reactor, pid int, cb func(pid, status int)) (*ChildWatcher, error) {
	if r.flags&FlagChild == 0 {
		return nil, cos.ErrInvalidArgument("reactor: child watcher requires a reactor created with FlagChild")
	}
	w := &ChildWatcher{base: newBase(r, "child"), pid: pid, cb: cb}

	w.prepare = NewPrepareWatcher(r, func() {
		if w.pendingRevents {
			w.idle.Start()
		}
	})
	w.check = NewCheckWatcher(r, func() {
		if w.pendingRevents {
			w.pendingRevents = false
			w.idle.Stop()
			w.cb(w.rpid, w.rstatus)
		}
	})
	w.idle = NewIdleWatcher(r, func() {})

	// The internal prepare/check/idle watchers are plumbing, not the job:
	// per section 5, unref them so they never by themselves keep the
	// reactor running. Only the ChildWatcher itself (via its embedded
	// base, referenced by default) counts toward pending().
	w.prepare.Unref()
	w.check.Unref()
	w.idle.Unref()

	w.onStart = func() {
		ct := r.childTableRef()
		ct.mu.Lock()
		ct.byPID[pid] = w
		ct.mu.Unlock()
		w.prepare.Start()
		w.check.Start()
	}
	w.onStop = func() {
		w.prepare.Stop()
		w.check.Stop()
		w.idle.Stop()
		if ct := r.childTab; ct != nil {
			ct.mu.Lock()
			delete(ct.byPID, pid)
			ct.mu.Unlock()
			ct.unref(r)
		}
	}
	return w, nil
}

func (w *ChildWatcher) GetRPid() int    { return w.rpid }
func (w *ChildWatcher) GetRStatus() int { return w.rstatus }
