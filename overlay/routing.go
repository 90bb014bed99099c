package overlay

import (
	"errors"
	"strconv"
	"time"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/cmn/nlog"
	"github.com/flux-framework/flux-core-go/message"
	"golang.org/x/sync/errgroup"
)

// ErrHostUnreachable is the sentinel a Transport implementation returns to
// signal EHOSTUNREACH: the one send failure overlay treats specially (it
// marks the child disconnected and notifies observers). Every other send
// error is logged but not otherwise acted on (section 4.C).
var ErrHostUnreachable = errors.New("overlay: host unreachable")

func parseRank(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (o *Overlay) selfID() string { return intToString(o.Rank) }

// SendRequest implements the REQUEST routing rule of section 4.C.
func (o *Overlay) SendRequest(m *message.Message, where Where) error {
	nodeid, err := m.NodeID()
	if err != nil {
		return err
	}

	target := -1
	if where == WhereAny {
		switch {
		case nodeid == uint32(o.Rank) && m.Flags()&message.FlagUpstream != 0:
			where = WhereUpstream
		default:
			if route, ok := ChildRoute(o.K, o.Size, o.Rank, int(nodeid)); ok {
				cp := m.Clone()
				cp.RouteEnable()
				if err := cp.RoutePush(o.selfID()); err != nil {
					return err
				}
				if err := cp.RoutePush(intToString(route)); err != nil {
					return err
				}
				m = cp
				where = WhereDownstream
				target = route
			} else {
				where = WhereUpstream
			}
		}
	}

	switch where {
	case WhereUpstream:
		return o.sendUpstream(m)
	case WhereDownstream:
		if target < 0 {
			target = int(nodeid)
		}
		return o.sendDownstream(target, m)
	default:
		return cos.ErrInvalidArgument("overlay: unresolved REQUEST destination")
	}
}

// SendResponse implements the RESPONSE routing rule of section 4.C.
func (o *Overlay) SendResponse(m *message.Message, where Where) error {
	if where == WhereAny {
		top, err := m.RouteLast()
		if err == nil && o.parent != nil && top == o.parent.id && o.Rank > 0 {
			where = WhereUpstream
		} else {
			where = WhereDownstream
		}
	}
	switch where {
	case WhereUpstream:
		return o.sendUpstream(m)
	case WhereDownstream:
		id, err := m.RoutePop()
		if err != nil {
			return cos.ErrUnreachable("overlay: RESPONSE has no resolvable downstream child")
		}
		rank, ok := parseRank(id)
		if !ok || !o.childPresent(rank) {
			return cos.ErrUnreachable("overlay: RESPONSE target child %q not present", id)
		}
		return o.sendDownstream(rank, m)
	default:
		return cos.ErrInvalidArgument("overlay: unresolved RESPONSE destination")
	}
}

func (o *Overlay) childPresent(rank int) bool {
	_, ok := o.children[rank]
	return ok
}

// SendEventDownstream multicasts m to every connected child concurrently
// (bounded to the child count), per-child copy with its own id pushed on
// top of an enabled route stack.
func (o *Overlay) SendEventDownstream(m *message.Message) error {
	var g errgroup.Group
	for rank, c := range o.children {
		rank, c := rank, c
		if !c.connected {
			continue
		}
		g.Go(func() error {
			cp := m.Clone()
			cp.RouteEnable()
			if err := cp.RoutePush(intToString(rank)); err != nil {
				return err
			}
			if err := o.sendDownstream(rank, cp); err != nil {
				nlog.Warningf("overlay: event multicast to child %d: %v", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SendEventUpstream ensures the route-stack delimiter exists (the ROUTE
// flag enabled) before handing the event to the parent link.
func (o *Overlay) SendEventUpstream(m *message.Message) error {
	if !m.RouteEnabled() {
		m.RouteEnable()
	}
	return o.sendUpstream(m)
}

func (o *Overlay) sendUpstream(m *message.Message) error {
	if o.testPaused {
		o.testBacklog = append(o.testBacklog, m)
		return nil
	}
	return o.sendUpstreamDirect(m)
}

func (o *Overlay) sendUpstreamDirect(m *message.Message) error {
	if o.parent == nil {
		return cos.ErrUnreachable("overlay: rank %d has no parent link", o.Rank)
	}
	if err := o.parent.transport.Send(m); err != nil {
		nlog.Warningf("overlay: send upstream: %v", err)
		return cos.ErrTransientTransport("overlay: send upstream: %v", err)
	}
	o.parent.lastSent = time.Now()
	return nil
}

func (o *Overlay) sendDownstream(rank int, m *message.Message) error {
	c, ok := o.children[rank]
	if !ok {
		return cos.ErrUnreachable("overlay: no such child %d", rank)
	}
	if err := c.transport.Send(m); err != nil {
		if errors.Is(err, ErrHostUnreachable) {
			o.markDisconnected(rank)
		} else {
			nlog.Warningf("overlay: send to child %d: %v", rank, err)
		}
		return cos.ErrTransientTransport("overlay: send to child %d: %v", rank, err)
	}
	return nil
}

// ReceiveFromChild processes an inbound message on the link bound to the
// given child rank (section 4.C "Receive from child").
func (o *Overlay) ReceiveFromChild(rank int, m *message.Message) {
	c, ok := o.children[rank]
	if !ok {
		nlog.Warningf("overlay: message from unregistered child rank %d dropped", rank)
		return
	}
	if id, err := m.RouteLast(); err == nil && id != "" && id != intToString(rank) && id != c.id {
		if o.shouldLogDrop(m.RouteHash(), time.Now()) {
			nlog.Warningf("overlay: route id %q does not match child %d, dropping", id, rank)
		}
		return
	}

	c.lastSeen = time.Now()
	wasConnected := c.connected
	c.connected = true

	switch m.Type() {
	case message.TypeKeepalive:
		status, _ := m.Status()
		switch status {
		case message.KeepaliveDisconnect:
			c.connected = false
		case message.KeepaliveTestPause:
			c.testPause = true
			o.recomputeIdle(rank)
		}
	case message.TypeResponse:
		// Pop the transport-added peer id, then our own id: both were
		// pushed at this hop when the corresponding REQUEST went
		// downstream.
		_, _ = m.RoutePop()
		_, _ = m.RoutePop()
		if m.RouteCount() == 0 {
			o.deliver(m)
		} else if err := o.SendResponse(m, WhereAny); err != nil {
			nlog.Warningf("overlay: forwarding response from child %d: %v", rank, err)
		}
	case message.TypeRequest, message.TypeEvent:
		o.deliver(m)
	}

	if wasConnected != c.connected {
		o.setChildConnected(rank, c)
	}
}

// ReceiveFromParent processes an inbound message on the parent link
// (section 4.C "Receive from parent").
func (o *Overlay) ReceiveFromParent(m *message.Message) {
	if m.Type() == message.TypeEvent {
		m.RouteDisable()
		m.RouteEnable()
	}
	o.deliver(m)
}

func (o *Overlay) deliver(m *message.Message) {
	if o.Dispatch != nil {
		o.Dispatch(m)
	}
}

func (o *Overlay) setChildConnected(rank int, c *childLink) {
	if o.Stats != nil {
		v := 0.0
		if c.connected {
			v = 1
		}
		o.Stats.ChildConnected.WithLabelValues(rankLabel(rank)).Set(v)
	}
	o.notifyObservers(ChildStatus{Rank: rank, Connected: c.connected, Idle: c.idle})
}
