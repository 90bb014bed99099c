package housekeeping_test

import (
	"fmt"
	"sync"

	"github.com/flux-framework/flux-core-go/housekeeping"
)

// fakeExec is a deterministic Exec test double: Start never calls onDone
// itself -- it just records it -- so a test can drive rank completions in
// whatever order the scenario under test calls for, from the single test
// goroutine, honoring the "onDone runs on the reactor goroutine" contract
// trivially (there is only one goroutine in play).
type fakeExec struct {
	mu       sync.Mutex
	started  map[int]int
	onDone   map[int]func(housekeeping.Result)
	failRank map[int]bool
}

func newFakeExec() *fakeExec {
	return &fakeExec{started: make(map[int]int), onDone: make(map[int]func(housekeeping.Result))}
}

func (f *fakeExec) Start(rank int, _ []string, _ []string, onDone func(housekeeping.Result)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[rank]++
	if f.failRank[rank] {
		return fmt.Errorf("fake exec: rank %d refused to start", rank)
	}
	f.onDone[rank] = onDone
	return nil
}

// finish invokes the stored callback for rank, simulating the script
// completing with res.
func (f *fakeExec) finish(rank int, res housekeeping.Result) {
	f.mu.Lock()
	cb := f.onDone[rank]
	delete(f.onDone, rank)
	f.mu.Unlock()
	if cb != nil {
		cb(res)
	}
}

func (f *fakeExec) startedCount(rank int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[rank]
}

// fakeAlloc records every SendFree call, optionally failing for a
// configured job id.
type fakeAlloc struct {
	mu       sync.Mutex
	frees    []freeCall
	failJobs map[housekeeping.JobID]bool
}

type freeCall struct {
	job   housekeeping.JobID
	ranks []int
}

func newFakeAlloc() *fakeAlloc {
	return &fakeAlloc{failJobs: make(map[housekeeping.JobID]bool)}
}

func (f *fakeAlloc) SendFree(id housekeeping.JobID, r *housekeeping.RankSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJobs[id] {
		return fmt.Errorf("fake alloc: send-free refused for job %s", id)
	}
	f.frees = append(f.frees, freeCall{job: id, ranks: r.Ranks()})
	return nil
}

func (f *fakeAlloc) calls() []freeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]freeCall(nil), f.frees...)
}

// fakeTables is a JobTables double.
type fakeTables struct {
	present map[housekeeping.JobID]bool
}

func (t *fakeTables) Lookup(id housekeeping.JobID) bool { return t.present[id] }

// fakeResponder is a HelloResponder double.
type fakeResponder struct {
	mu        sync.Mutex
	responded []housekeeping.JobID
	failJobs  map[housekeeping.JobID]bool
}

func newFakeResponder() *fakeResponder {
	return &fakeResponder{failJobs: make(map[housekeeping.JobID]bool)}
}

func (r *fakeResponder) Respond(id housekeeping.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failJobs[id] {
		return fmt.Errorf("fake responder: send failed for %s", id)
	}
	r.responded = append(r.responded, id)
	return nil
}

// fakeActiveJobs is an ActiveJobs double for sysjob tests.
type fakeActiveJobs struct {
	mu        sync.Mutex
	installed []*housekeeping.SysjobRecord
	running   int
}

func (a *fakeActiveJobs) Install(r *housekeeping.SysjobRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = append(a.installed, r)
}

func (a *fakeActiveJobs) IncRunning() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running++
}
