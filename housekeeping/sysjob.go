package housekeeping

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/cmn/nlog"
)

// JobState is the coarse RUN/CLEANUP lifecycle a SysjobRecord is driven
// through (section 4.E): sysjobs are installed directly into RUN state and
// transition to CLEANUP once their exec completes.
type JobState int

const (
	StateRun JobState = iota
	StateCleanup
)

// EventName names one entry of a SysjobRecord's eventlog. sysjob.c's
// minimal eventlog (submit/validate/depend/priority/alloc, then a terminal
// finish) is reproduced exactly; this module does not model the richer
// eventlog a real job accumulates (dependencies, jobtap, etc.), since
// jobtap is explicitly disabled for sysjobs.
type EventName string

const (
	EventSubmit   EventName = "submit"
	EventValidate EventName = "validate"
	EventDepend   EventName = "depend"
	EventPriority EventName = "priority"
	EventAlloc    EventName = "alloc"
	EventFinish   EventName = "finish"
)

// Event is one eventlog entry.
type Event struct {
	Name      EventName
	Timestamp time.Time
	Context   map[string]any
}

// defaultPriority mirrors sysjob.c's hard-coded priority event value.
const defaultPriority = 16

// SysjobRecord is the minimal job record sysjob installs into the active
// jobs table: just enough eventlog and state to drive the same housekeeping
// exec lifecycle a regular job's resources go through.
type SysjobRecord struct {
	ID       JobID
	Name     string
	R        *RankSet
	Eventlog []Event
	State    JobState
	Priority int

	pending *RankSet
	status  int
	started bool
}

func (r *SysjobRecord) appendEvent(name EventName, ctx map[string]any) {
	r.Eventlog = append(r.Eventlog, Event{Name: name, Timestamp: time.Now(), Context: ctx})
}

// ActiveJobs is the subset of the job manager's active-jobs table sysjob
// needs (section 4.E): install a freshly created record, and bump the
// running-jobs counter the same way a normal job does on its RUN
// transition, since a sysjob is installed directly in RUN state. The job
// manager proper owning these tables is out of scope (section 1).
type ActiveJobs interface {
	Install(*SysjobRecord)
	IncRunning()
}

// Sysjob schedules arbitrary owner-privileged work as if it were a regular
// Flux job (section 4.E). It mints ids from a generator space distinct from
// ordinary job-ingest ids, synthesises a minimal eventlog, installs the
// record with RUN-state semantics, and drives the command across every
// rank of R through the same Exec capability Housekeeping uses for its own
// script -- but in its own serialization domain: sysjob is explicitly an
// orthogonal capability, not subject to Housekeeping's per-rank coalescing.
type Sysjob struct {
	mu sync.Mutex

	owner  uint32
	exec   Exec
	active ActiveJobs
}

func NewSysjob(owner uint32, exec Exec, active ActiveJobs) *Sysjob {
	return &Sysjob{owner: owner, exec: exec, active: active}
}

// Create synthesises a minimal job record for cmd run across every rank of
// r, installs it into the active jobs table with RUN-state semantics, and
// bumps the running-jobs counter (sysjob_create / sysjob_create_finish).
// name is a human-readable label (e.g. "(housekeeping for f2Xk9)"); cmd is
// the tokenised command line.
func (s *Sysjob) Create(name string, cmd []string, r *RankSet) (*SysjobRecord, error) {
	if len(cmd) == 0 {
		return nil, cos.ErrInvalidArgument("sysjob: empty command")
	}
	rec := &SysjobRecord{
		ID:      JobID(uuid.New().String()),
		Name:    name,
		R:       r.Clone(),
		pending: r.Clone(),
		State:   StateRun,
	}
	rec.appendEvent(EventSubmit, map[string]any{"userid": s.owner, "urgency": 0, "version": 1})
	rec.appendEvent(EventValidate, nil)
	rec.appendEvent(EventDepend, nil)
	rec.Priority = defaultPriority
	rec.appendEvent(EventPriority, map[string]any{"priority": defaultPriority})
	rec.appendEvent(EventAlloc, nil)

	s.active.Install(rec)
	// The running-jobs count is normally bumped when a job transitions to
	// RUN via the regular event path; sysjobs begin in RUN state, so it
	// must be bumped explicitly here (sysjob_create_finish).
	s.active.IncRunning()

	s.bulkExec(rec, cmd)
	return rec, nil
}

func (s *Sysjob) bulkExec(rec *SysjobRecord, cmd []string) {
	if rec.started {
		return
	}
	rec.started = true
	for _, rank := range rec.pending.Ranks() {
		rank := rank
		err := s.exec.Start(rank, cmd, nil, func(res Result) {
			s.onRankDone(rec, rank, res)
		})
		if err != nil {
			nlog.Errorf("sysjob %s: error starting rank %d: %v", rec.Name, rank, err)
			s.onRankDone(rec, rank, Result{Err: err})
		}
	}
}

// onRankDone records the first non-zero status observed across the bulk
// exec and, once every rank has finished, posts the terminal finish event
// (bulk_exit_cb / bulk_complete_cb).
func (s *Sysjob) onRankDone(rec *SysjobRecord, rank int, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.pending.Remove(rank)
	if rec.status == 0 {
		switch {
		case res.Err != nil:
			rec.status = -1
		case res.Signaled:
			rec.status = 128
		case res.ExitCode != 0:
			rec.status = res.ExitCode
		}
	}
	if !rec.pending.IsEmpty() {
		return
	}
	rec.State = StateCleanup
	rec.appendEvent(EventFinish, map[string]any{"status": rec.status})
	nlog.Infof("sysjob %s: finished, status=%d", rec.Name, rec.status)
}
