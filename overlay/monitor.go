package overlay

import (
	"time"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/cmn/nlog"
	"github.com/flux-framework/flux-core-go/message"
)

// Monitor registers clientID as a peer-status observer. Per section 4.C,
// the first response carries the full snapshot of every known child in one
// shot; every subsequent response carries a single child's change, wrapped
// in a length-1 slice so send has one wire shape throughout the stream.
// Returns ENODATA if there are no children to report (section 4.C's
// overlay.monitor RPC).
func (o *Overlay) Monitor(clientID string, send func([]ChildStatus) error) error {
	if o.Stats != nil {
		o.Stats.MonitorRequests.Inc()
	}
	if len(o.children) == 0 {
		return cos.ErrNoData("overlay: no children to monitor")
	}

	snapshot := make([]ChildStatus, 0, len(o.children))
	for rank, c := range o.children {
		snapshot = append(snapshot, ChildStatus{Rank: rank, Connected: c.connected, Idle: c.idle})
	}

	o.mu.Lock()
	o.observers = append(o.observers, observer{clientID: clientID, send: func(s ChildStatus) error {
		return send([]ChildStatus{s})
	}})
	o.mu.Unlock()

	return send(snapshot)
}

// Disconnect purges clientID's observer registration (overlay.disconnect).
func (o *Overlay) Disconnect(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.observers[:0]
	for _, ob := range o.observers {
		if ob.clientID != clientID {
			kept = append(kept, ob)
		}
	}
	o.observers = kept
}

func (o *Overlay) notifyObservers(status ChildStatus) {
	o.mu.Lock()
	obs := append([]observer(nil), o.observers...)
	o.mu.Unlock()
	for _, ob := range obs {
		if err := ob.send(status); err != nil {
			nlog.Warningf("overlay: observer %s: %v", ob.clientID, err)
		}
	}
}

// LSPeer reports, for every known child id, the time since its last inbound
// message (overlay.lspeer).
func (o *Overlay) LSPeer() map[string]float64 {
	now := time.Now()
	out := make(map[string]float64, len(o.children))
	for _, c := range o.children {
		out[c.id] = now.Sub(c.lastSeen).Seconds()
	}
	return out
}

// Pause enters test-pause: a TEST_PAUSE keepalive is sent upstream
// immediately, then every further upstream send is queued in test_backlog
// instead of reaching the transport (section 4.C, used by test harnesses to
// force an idle window deterministically).
func (o *Overlay) Pause() error {
	if o.testPaused {
		return nil
	}
	ka, err := message.Create(message.TypeKeepalive)
	if err != nil {
		return err
	}
	if err := ka.SetStatus(message.KeepaliveTestPause); err != nil {
		return err
	}
	o.testPaused = true
	o.testBacklog = nil
	return o.sendUpstreamDirect(ka)
}

// Resume exits test-pause, draining test_backlog to the parent link in
// order and freeing it.
func (o *Overlay) Resume() error {
	if !o.testPaused {
		return nil
	}
	o.testPaused = false
	backlog := o.testBacklog
	o.testBacklog = nil
	for _, m := range backlog {
		if err := o.sendUpstreamDirect(m); err != nil {
			nlog.Warningf("overlay: draining test backlog: %v", err)
		}
	}
	return nil
}
