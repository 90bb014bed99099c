package housekeeping

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/flux-framework/flux-core-go/reactor"
)

// Allocation tracks one job's progress through housekeeping (section 3):
// the diminishing resource set R, the ranks still running the script, and
// the partial-release timer policy's state.
type Allocation struct {
	JobID JobID
	R     *RankSet // diminishes as ranks are released
	// Pending holds the ranks that have not yet finished running the
	// script.
	Pending *RankSet

	timer        *reactor.TimerWatcher
	timerArmed   bool
	timerExpired bool
	freeCount    int
	tStart       time.Time
}

func newAllocation(id JobID, r *RankSet) *Allocation {
	return &Allocation{
		JobID:   id,
		R:       r.Clone(),
		Pending: r.Clone(),
		tStart:  time.Now(),
	}
}

// housekeptRanks returns the ranks of a.R that are no longer pending, i.e.
// the ranks ready to be released back to the scheduler.
func (a *Allocation) housekeptRanks() *RankSet {
	return a.R.Sub(a.Pending)
}

// snapshot is the JSON-shaped view of an Allocation a HelloResponder
// implementation can embed in the wire payload it sends to the restarting
// scheduler (housekeeping_hello_respond's R/expiration payload).
type snapshot struct {
	JobID   JobID `json:"jobid"`
	R       []int `json:"R"`
	Pending []int `json:"pending"`
}

// Snapshot encodes a's currently held and still-pending ranks as JSON, for
// callers of Hello that need to put something on the wire rather than just
// learn which job ids are still allocated.
func (a *Allocation) Snapshot() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(snapshot{
		JobID:   a.JobID,
		R:       a.R.Ranks(),
		Pending: a.Pending.Ranks(),
	})
}
