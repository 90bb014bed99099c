// Package housekeeping implements section 4.E's post-job cleanup state
// machine: when a job releases its resources, an admin script runs once on
// every execution rank, then the cleaned ranks are returned to the
// scheduler, subject to the configured full/immediate/delayed partial-
// release policy. Sysjob, the orthogonal capability that schedules
// arbitrary owner-privileged work (including the housekeeping script
// itself) as if it were a regular job, lives alongside it in sysjob.go.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package housekeeping

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flux-framework/flux-core-go/cmn/nlog"
	"github.com/flux-framework/flux-core-go/reactor"
	"github.com/flux-framework/flux-core-go/stats"
)

// Job is the minimal view of a job Start needs: its id, its allocated
// resource set, and whether it is a system job (which always skips
// housekeeping; section 4.E).
type Job struct {
	ID     JobID
	R      *RankSet
	System bool
}

// AllocSink is the scheduler-facing "free" request section 4.E describes;
// the scheduler that consumes it is explicitly out of scope (section 1).
type AllocSink interface {
	SendFree(jobID JobID, r *RankSet) error
}

// Housekeeping is the per-broker (rank 0 only) state of section 3's
// Housekeeping/Allocation model: the allocation list and the process-wide
// per-rank in-flight table that serialises script invocations.
type Housekeeping struct {
	mu sync.Mutex

	reactor *reactor.Reactor
	alloc   AllocSink
	exec    Exec
	stats   *stats.Registry

	cfg         Config
	allocations []*Allocation
	// targets serialises script invocations: at most one per rank,
	// process-wide, across all allocations (section 5's "at-most-once per
	// rank").
	targets map[int]bool
}

// New builds a Housekeeping bound to r's reactor. Configure must be called
// at least once (with a possibly-disabled Config) before Start.
func New(r *reactor.Reactor, alloc AllocSink, exec Exec, reg *stats.Registry) *Housekeeping {
	return &Housekeeping{
		reactor: r,
		alloc:   alloc,
		exec:    exec,
		stats:   reg,
		targets: make(map[int]bool),
	}
}

// Configure installs cfg. It is reload-safe: callers may call it again at
// any time, including while allocations are in flight, matching
// housekeeping_parse_config's "allow dynamic changes".
func (hk *Housekeeping) Configure(cfg Config) {
	hk.mu.Lock()
	hk.cfg = cfg
	hk.mu.Unlock()
	nlog.Infof("housekeeping is %sconfigured", enabledWord(cfg.Enabled()))
}

func enabledWord(enabled bool) string {
	if enabled {
		return ""
	}
	return "not "
}

// Start begins housekeeping for job, or frees its resources immediately if
// housekeeping is disabled or job carries the SYSTEM flag (section 4.E).
func (hk *Housekeeping) Start(job Job) error {
	hk.mu.Lock()
	cfg := hk.cfg
	hk.mu.Unlock()

	if !cfg.Enabled() || job.System {
		return hk.alloc.SendFree(job.ID, job.R.Clone())
	}

	a := newAllocation(job.ID, job.R)
	a.timer = reactor.NewTimerWatcher(hk.reactor, 0, 0, func() { hk.allocationTimeout(a) })

	hk.mu.Lock()
	hk.allocations = append(hk.allocations, a)
	hk.mu.Unlock()

	var g errgroup.Group
	for _, rank := range a.Pending.Ranks() {
		rank := rank
		g.Go(func() error { return hk.startOne(cfg, rank) })
	}
	if err := g.Wait(); err != nil {
		nlog.Warningf("housekeeping: %s: error starting script on some ranks: %v", job.ID, err)
	}

	if a.Pending.IsEmpty() {
		// R was empty, or every launch failed and finishOne already
		// processed each failure as a completion; nothing to wait on.
		hk.mu.Lock()
		hk.removeLocked(a)
		hk.mu.Unlock()
	}
	return nil
}

// startOne launches cfg.Command on rank unless a script is already running
// there (section 5's at-most-once-per-rank coalescing).
func (hk *Housekeeping) startOne(cfg Config, rank int) error {
	hk.mu.Lock()
	if hk.targets[rank] {
		hk.mu.Unlock()
		return nil
	}
	hk.targets[rank] = true
	hk.mu.Unlock()

	if hk.stats != nil {
		hk.stats.HKInFlight.Inc()
	}
	env := ScriptEnv(brokerEnviron())
	err := hk.exec.Start(rank, cfg.Command, env, func(res Result) { hk.finishOne(rank, res) })
	if err != nil {
		hk.mu.Lock()
		delete(hk.targets, rank)
		hk.mu.Unlock()
		nlog.Warningf("housekeeping: error starting script on rank %d: %v", rank, err)
		// treat a failed launch as an immediate (failed) completion so the
		// rank isn't stuck pending forever.
		hk.finishOne(rank, Result{Err: err})
		return err
	}
	return nil
}

// brokerEnviron is overridden in tests; in production it is os.Environ.
var brokerEnviron = defaultBrokerEnviron

// finishOne processes the completion of rank's script across every
// allocation still waiting on it (housekeeping_finish_one). It must run on
// the owning reactor's goroutine.
func (hk *Housekeeping) finishOne(rank int, res Result) {
	hk.mu.Lock()
	delete(hk.targets, rank)
	hk.mu.Unlock()
	if hk.stats != nil {
		hk.stats.HKInFlight.Dec()
	}
	logScriptResult(rank, res)
	if res.Err == nil && hk.stats != nil && (res.ExitCode != 0 || res.Signaled) {
		hk.stats.HKScriptErrors.Inc()
	}

	hk.mu.Lock()
	allocs := append([]*Allocation(nil), hk.allocations...)
	cfg := hk.cfg
	hk.mu.Unlock()

	for _, a := range allocs {
		if !a.Pending.Contains(rank) {
			continue
		}
		a.Pending.Remove(rank)

		if a.Pending.IsEmpty() || cfg.ReleaseAfter.IsImmediate() || a.timerExpired {
			hk.release(a)
		}
		if !a.timerArmed && !cfg.ReleaseAfter.IsUnset() && cfg.ReleaseAfter.Duration() > 0 {
			a.timer.Stop()
			a.timer = reactor.NewTimerWatcher(hk.reactor, cfg.ReleaseAfter.Duration(), 0, func() {
				hk.allocationTimeout(a)
			})
			a.timer.Start()
			a.timerArmed = true
		}

		if a.R.IsEmpty() {
			hk.mu.Lock()
			hk.removeLocked(a)
			hk.mu.Unlock()
		}
	}
}

func logScriptResult(rank int, res Result) {
	switch {
	case res.Err != nil:
		nlog.Warningf("housekeeping rank %d: %v", rank, res.Err)
	case res.Signaled:
		nlog.Errorf("housekeeping rank %d: %s", rank, res.Signal)
	case res.ExitCode != 0:
		nlog.Errorf("housekeeping rank %d: exit %d", rank, res.ExitCode)
	default:
		nlog.Infof("housekeeping rank %d: exit 0", rank)
	}
}

// allocationTimeout is the one-shot timer callback of the delayed partial-
// release policy (allocation_timeout).
func (hk *Housekeeping) allocationTimeout(a *Allocation) {
	a.timerExpired = true
	hk.release(a)
	if a.R.IsEmpty() {
		hk.mu.Lock()
		hk.removeLocked(a)
		hk.mu.Unlock()
	}
}

// release sends a free request for every rank of a that has finished
// housekeeping but not yet been released (allocation_release).
func (hk *Housekeeping) release(a *Allocation) {
	ranks := a.housekeptRanks()
	if ranks.IsEmpty() {
		return
	}
	if err := hk.alloc.SendFree(a.JobID, ranks); err != nil {
		nlog.Errorf("housekeeping: error releasing resources for job %s ranks %v: %v",
			a.JobID, ranks.Ranks(), err)
		return
	}
	a.R.RemoveAll(ranks)
	a.freeCount++
	if hk.stats != nil {
		hk.stats.HKFreeCount.Inc()
	}
}

func (hk *Housekeeping) removeLocked(a *Allocation) {
	for i, cur := range hk.allocations {
		if cur == a {
			hk.allocations = append(hk.allocations[:i], hk.allocations[i+1:]...)
			nlog.Infof("housekeeping: all resources of %s have been released", a.JobID)
			return
		}
	}
}

// JobTables answers whether id is present in the job manager's active or
// inactive job tables (section 4.E's hello replay, scoped to what this
// module needs: membership, not the job record itself).
type JobTables interface {
	Lookup(id JobID) bool
}

// HelloResponder sends the still-allocated-job entry for id. It returns an
// error if the response failed to send.
type HelloResponder interface {
	Respond(id JobID) error
}

// Hello replays the job manager's still-allocated jobs to a restarting
// scheduler (housekeeping_hello_respond). Any allocation that already had a
// partial release, whose job is missing from the job tables, or whose
// response fails to send is dropped from tracking -- the conservative
// choice section 9's open question preserves, erring toward letting the
// scheduler treat still-running housekeeping ranks as free rather than
// risking a deadlock.
func (hk *Housekeeping) Hello(tables JobTables, responder HelloResponder) {
	hk.mu.Lock()
	allocs := append([]*Allocation(nil), hk.allocations...)
	hk.mu.Unlock()

	for _, a := range allocs {
		if a.freeCount > 0 || !tables.Lookup(a.JobID) {
			hk.dropAllocation(a)
			continue
		}
		if err := responder.Respond(a.JobID); err != nil {
			nlog.Warningf("housekeeping: %s: still running at scheduler restart"+
				" (hello response failed: %v); jobs may be allowed to run there"+
				" before housekeeping is complete", a.JobID, err)
			hk.dropAllocation(a)
		}
	}
}

func (hk *Housekeeping) dropAllocation(a *Allocation) {
	hk.mu.Lock()
	hk.removeLocked(a)
	hk.mu.Unlock()
}

// Allocations returns a snapshot of the currently tracked allocations, for
// diagnostics/tests.
func (hk *Housekeeping) Allocations() []*Allocation {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	return append([]*Allocation(nil), hk.allocations...)
}
