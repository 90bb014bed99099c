package overlay

import (
	"time"

	"github.com/flux-framework/flux-core-go/message"
)

// SyncOnce runs one keepalive/idle-detection tick (section 4.C). Callers
// drive it from a reactor.TimerWatcher on a short repeat interval; it is not
// itself a blocking loop so tests can call it directly without a reactor.
func (o *Overlay) SyncOnce() {
	now := time.Now()
	if o.parent != nil && !o.testPaused && now.Sub(o.parent.lastSent) > idleMin {
		ka, err := message.Create(message.TypeKeepalive)
		if err == nil {
			_ = ka.SetStatus(message.KeepaliveNormal)
			_ = o.sendUpstream(ka)
		}
	}
	for rank, c := range o.children {
		o.syncChildIdle(rank, c, now)
	}
}

// Shutdown emits a single DISCONNECT keepalive upstream, per section 3's
// invariant: "Keepalive with status=DISCONNECT is emitted at most once, on
// overlay shutdown." It bypasses the test-pause backlog so the signal
// reaches the parent immediately rather than waiting on Resume, and is a
// no-op on rank 0 (no parent link) or on a second call.
func (o *Overlay) Shutdown() error {
	if o.shutdown {
		return nil
	}
	o.shutdown = true
	if o.parent == nil {
		return nil
	}
	ka, err := message.Create(message.TypeKeepalive)
	if err != nil {
		return err
	}
	if err := ka.SetStatus(message.KeepaliveDisconnect); err != nil {
		return err
	}
	return o.sendUpstreamDirect(ka)
}

func (o *Overlay) recomputeIdle(rank int) {
	c, ok := o.children[rank]
	if !ok {
		return
	}
	o.syncChildIdle(rank, c, time.Now())
}

func (o *Overlay) syncChildIdle(rank int, c *childLink, now time.Time) {
	wasIdle := c.idle
	shouldBeIdle := c.connected && (now.Sub(c.lastSeen) >= idleMax || c.testPause)
	c.idle = shouldBeIdle
	if shouldBeIdle == wasIdle {
		return
	}

	reason := "recovered"
	if shouldBeIdle {
		if c.testPause {
			reason = "test-pause"
		} else {
			reason = "idle timeout"
		}
	}

	if o.Stats != nil {
		v := 0.0
		if shouldBeIdle {
			v = 1
		}
		o.Stats.ChildIdle.WithLabelValues(rankLabel(rank)).Set(v)
	}
	o.notifyObservers(ChildStatus{Rank: rank, Connected: c.connected, Idle: shouldBeIdle, Reason: reason})
}
