package overlay

import (
	"sync"
	"time"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/message"
	"github.com/flux-framework/flux-core-go/stats"
)

// idle_min/idle_max per section 4.C. idle_max stays hard-coded: section 9's
// open question preserves this rather than inventing a new config knob.
const (
	idleMin = 5 * time.Second
	idleMax = 30 * time.Second
)

// Where is the routing destination of a send (section 4.C).
type Where uint8

const (
	WhereAny Where = iota
	WhereUpstream
	WhereDownstream
)

// Transport is the abstract framed-message link the overlay router sends
// and receives Messages over. It is deliberately minimal: the concrete wire
// transport (TCP/TLS, reconnection, congestion control) is explicitly out
// of scope (section 1) and owned by the enclosing runtime; this module
// ships only the interface plus a loopback test double (see loopback.go).
type Transport interface {
	Send(m *message.Message) error
	Close() error
}

type childLink struct {
	rank      int
	id        string
	transport Transport
	lastSeen  time.Time
	connected bool
	idle      bool
	testPause bool
}

type parentLink struct {
	rank      int
	id        string
	transport Transport
	lastSent  time.Time
}

// ChildStatus is the snapshot/delta payload of the peer-status monitor
// stream (section 4.C).
type ChildStatus struct {
	Rank      int    `json:"rank"`
	Connected bool   `json:"connected"`
	Idle      bool   `json:"idle"`
	Reason    string `json:"reason,omitempty"`
}

type observer struct {
	clientID string
	send     func(ChildStatus) error
}

// Overlay is the per-broker router state of section 3. Fields are mutated
// from the owning reactor's goroutine (section 5), with one exception:
// SendEventDownstream sends to each child on its own errgroup goroutine, and
// a failed send there marks that child disconnected and notifies observers.
// There is no locking inside the routing hot path; mu guards only the observer list, which a
// disconnect RPC may touch concurrently with a keepalive tick in a test
// harness that doesn't route everything through one reactor.
type Overlay struct {
	mu sync.Mutex

	Rank, Size, K int

	parent   *parentLink
	children map[int]*childLink

	observers []observer

	testPaused  bool
	testBacklog []*message.Message

	shutdown bool

	// dropWarned dedups the "message from unknown peer" log line (section
	// 4.C "Receive from child... drop messages from unknown peers (log)")
	// keyed by message.RouteHash so a peer replaying the same bad route
	// doesn't flood the log.
	dropWarned map[uint64]time.Time

	// Dispatch delivers a locally-destined REQUEST/EVENT to the service
	// layer above the router.
	Dispatch func(*message.Message)

	Stats *stats.Registry
	Auth  *Authenticator
}

// New builds router state for the given geometry. parentRank/size/k follow
// the pure functions in topology.go; callers that are rank 0 pass no parent
// link (ParentOf reports false).
func New(rank, size, k int, reg *stats.Registry) *Overlay {
	o := &Overlay{Rank: rank, Size: size, K: k, children: make(map[int]*childLink), Stats: reg}
	return o
}

// AttachParent installs the upstream link; no-op for rank 0. proof
// authenticates the parent to this broker's Authenticator, if one is
// configured (section 4.C); pass nil when no Authenticator is set.
func (o *Overlay) AttachParent(id string, t Transport, proof *AuthProof) error {
	if o.Rank == 0 {
		return nil
	}
	if err := o.authenticate(id, proof); err != nil {
		_ = t.Close()
		return err
	}
	o.parent = &parentLink{rank: mustParent(o.K, o.Rank), id: id, transport: t, lastSent: time.Now()}
	return nil
}

func mustParent(k, rank int) int {
	p, _ := ParentOf(k, rank)
	return p
}

// AttachChild installs (or replaces) a direct child's link, marking it
// connected. A fresh inbound connection always clears any prior idle/
// test-pause state, per section 4.C's "loss of connection is not
// automatically recovered... until a new inbound message arrives" rule
// generalized to the initial attach.
//
// proof authenticates the connecting child against this broker's
// Authenticator, if one is configured: a connection "succeeds iff the
// peer's public key is present in the store AND the peer presents proof of
// the matching private key; otherwise the connection is denied at the
// transport authentication layer" (section 4.C). When o.Auth is nil,
// authentication is disabled and proof is ignored -- the transport-level
// handshake is then entirely the enclosing runtime's concern.
func (o *Overlay) AttachChild(rank int, id string, t Transport, proof *AuthProof) error {
	if err := o.authenticate(id, proof); err != nil {
		_ = t.Close()
		return err
	}
	o.children[rank] = &childLink{rank: rank, id: id, transport: t, lastSeen: time.Now(), connected: true}
	if o.Stats != nil {
		o.Stats.ChildConnected.WithLabelValues(rankLabel(rank)).Set(1)
	}
	o.notifyObservers(ChildStatus{Rank: rank, Connected: true})
	return nil
}

// authenticate enforces section 4.C's connection policy when o.Auth is
// configured: proof must be present and verify against the certificate
// store under id. No Authenticator means no authentication is performed
// here (the enclosing runtime owns it instead).
func (o *Overlay) authenticate(id string, proof *AuthProof) error {
	if o.Auth == nil {
		return nil
	}
	if proof == nil {
		return cos.ErrPermissionDenied("overlay: peer %q presented no credentials", id)
	}
	if proof.ID != id {
		return cos.ErrPermissionDenied("overlay: peer %q presented credentials for %q", id, proof.ID)
	}
	return o.Auth.Authenticate(proof.ID, proof.Nonce, proof.Sig)
}

func rankLabel(rank int) string {
	// small, allocation-light enough for a bounded child count; avoids
	// pulling in strconv at every call site above this one.
	return intToString(rank)
}

func intToString(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// dropLogWindow bounds how often the same bad route is re-logged: a
// misbehaving or stale peer replaying the same unresolvable route stack
// should not flood the log once per message.
const dropLogWindow = time.Second

// shouldLogDrop reports whether a "dropping message" warning for route hash
// h should actually be written, deduping repeats of the same route within
// dropLogWindow (DESIGN.md's log-dedup use of message.RouteHash).
func (o *Overlay) shouldLogDrop(h uint64, now time.Time) bool {
	if o.dropWarned == nil {
		o.dropWarned = make(map[uint64]time.Time)
	}
	if last, ok := o.dropWarned[h]; ok && now.Sub(last) < dropLogWindow {
		return false
	}
	o.dropWarned[h] = now
	return true
}

// childConnected reports whether rank is a presently-connected direct child.
func (o *Overlay) childConnected(rank int) bool {
	c, ok := o.children[rank]
	return ok && c.connected
}

func (o *Overlay) markDisconnected(rank int) {
	c, ok := o.children[rank]
	if !ok || !c.connected {
		return
	}
	c.connected = false
	if o.Stats != nil {
		o.Stats.ChildConnected.WithLabelValues(rankLabel(rank)).Set(0)
	}
	o.notifyObservers(ChildStatus{Rank: rank, Connected: false, Idle: c.idle})
}
