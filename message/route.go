package message

import (
	"strings"

	"github.com/OneOfOne/xxhash"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

// RouteEnable turns on route-stack tracking for the message; RouteDisable
// turns it off and discards any accumulated stack.
func (m *Message) RouteEnable() {
	m.flags |= FlagRoute
	m.routeEnabled = true
	if m.routes == nil {
		m.routes = []string{}
	}
}

func (m *Message) RouteDisable() {
	m.flags &^= FlagRoute
	m.routeEnabled = false
	m.routes = nil
}

func (m *Message) RouteClear() error {
	if !m.routeEnabled {
		return cos.ErrProtocol("message: route stack not enabled")
	}
	m.routes = m.routes[:0]
	return nil
}

// RoutePush prepends id to the stack: it becomes the new route_last (front).
func (m *Message) RoutePush(id string) error {
	if !m.routeEnabled {
		return cos.ErrProtocol("message: route stack not enabled")
	}
	m.routes = append([]string{id}, m.routes...)
	return nil
}

// RoutePop removes and returns the front (most recently pushed) id.
func (m *Message) RoutePop() (string, error) {
	if !m.routeEnabled {
		return "", cos.ErrProtocol("message: route stack not enabled")
	}
	if len(m.routes) == 0 {
		return "", cos.ErrProtocol("message: route stack empty")
	}
	id := m.routes[0]
	m.routes = m.routes[1:]
	return id, nil
}

// RouteFirst returns the tail (oldest / originating sender) id.
func (m *Message) RouteFirst() (string, error) {
	if !m.routeEnabled {
		return "", cos.ErrProtocol("message: route stack not enabled")
	}
	if len(m.routes) == 0 {
		return "", cos.ErrNoData("message: route stack empty")
	}
	return m.routes[len(m.routes)-1], nil
}

// RouteLast returns the front (most recently pushed) id.
func (m *Message) RouteLast() (string, error) {
	if !m.routeEnabled {
		return "", cos.ErrProtocol("message: route stack not enabled")
	}
	if len(m.routes) == 0 {
		return "", cos.ErrNoData("message: route stack empty")
	}
	return m.routes[0], nil
}

func (m *Message) RouteCount() int { return len(m.routes) }

func (m *Message) RouteEnabled() bool { return m.routeEnabled }

// RouteString renders the stack front-to-tail, '!'-separated, with each id
// truncated to 8 characters -- a log-friendly breadcrumb trail, not a wire
// format.
func (m *Message) RouteString() string {
	if len(m.routes) == 0 {
		return ""
	}
	parts := make([]string, len(m.routes))
	for i, r := range m.routes {
		if len(r) > 8 {
			r = r[:8]
		}
		parts[i] = r
	}
	return strings.Join(parts, "!")
}

// routeHashSeed matches the seed aistore's own xxhash call sites use
// (cmn/cos.MLCG32), kept here as a plain constant since that generator
// belongs to a storage-hashing package this module does not carry.
const routeHashSeed = 0x2545F4914F6CDD1D

// RouteHash is a cheap correlation hash of RouteString, used as a dedup key
// by callers that rate-limit repeated log lines for the same route.
func (m *Message) RouteHash() uint64 {
	return xxhash.ChecksumString64S(m.RouteString(), routeHashSeed)
}
