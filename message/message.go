// Package message implements the on-wire framed message used by the overlay
// router and every service built on top of it: message type/flags/credentials,
// a route stack, a cheap type/matchtag/topic matcher, and the length-prefixed
// wire codec.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package message

import (
	"sync"
	ratomic "sync/atomic"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/cmn/debug"
)

// Type is the message type. It doubles as a bitmask so that a Matcher can
// test membership with a single AND against a typemask, the same way the
// router's dispatch tables do.
type Type uint8

const (
	TypeAny       Type = 0
	TypeRequest   Type = 0x01
	TypeResponse  Type = 0x02
	TypeEvent     Type = 0x04
	TypeKeepalive Type = 0x08
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeEvent:
		return "event"
	case TypeKeepalive:
		return "keepalive"
	case TypeAny:
		return "any"
	default:
		return "unknown"
	}
}

// Flags is the message flag bitset. Numeric values are part of the wire
// compatibility contract (section 6): specify once, hold forever.
type Flags uint8

const (
	FlagTopic      Flags = 0x01
	FlagPayload    Flags = 0x02
	FlagRoute      Flags = 0x04
	FlagUpstream   Flags = 0x08
	FlagPrivate    Flags = 0x10
	FlagStreaming  Flags = 0x20
	FlagNoResponse Flags = 0x40
)

// KeepaliveStatus is the type-specific status word carried by a KEEPALIVE
// message.
type KeepaliveStatus uint32

const (
	KeepaliveNormal     KeepaliveStatus = 0
	KeepaliveDisconnect KeepaliveStatus = 1
	KeepaliveTestPause  KeepaliveStatus = 2
)

// Sentinels for the 32-bit userid/nodeid/matchtag fields (section 3).
const (
	NodeIDAny      uint32 = 0xffffffff
	NodeIDUpstream uint32 = 0xfffffffe
	MatchtagNone   uint32 = 0
	UserIDUnknown  uint32 = 0xffffffff

	RoleOwner uint32 = 0x1
	RoleUser  uint32 = 0x2
)

const (
	protoMagic   byte = 0x8e
	protoVersion byte = 1
)

// Message is the on-wire unit. It is shared-ownership: Incref/Decref
// implement the reference count described in section 3; decref to zero
// releases topic, payload and route-stack storage.
type Message struct {
	mu sync.Mutex

	refcnt int32

	typ      Type
	flags    Flags
	userid   uint32
	rolemask uint32

	// word1/word2 pack the type-specific fields of section 3:
	//   REQUEST:   word1=nodeid,  word2=matchtag
	//   RESPONSE:  word1=errnum,  word2=matchtag
	//   EVENT:     word1=sequence
	//   KEEPALIVE: word1=errnum,  word2=status
	word1 uint32
	word2 uint32

	nodeidSet bool

	topic   string
	payload []byte

	routeEnabled bool
	// routes[0] is the most recently pushed id (route_last / front);
	// routes[len-1] is the oldest (route_first / tail).
	routes []string

	aux map[string]string
}

// Create builds a new message of the given type with refcount 1 and the
// type's default field values filled in.
func Create(typ Type) (*Message, error) {
	if typ != TypeRequest && typ != TypeResponse && typ != TypeEvent && typ != TypeKeepalive {
		return nil, cos.ErrInvalidArgument("message: unknown type %v", typ)
	}
	m := &Message{refcnt: 1, typ: typ, userid: UserIDUnknown}
	if typ == TypeRequest {
		m.word1 = NodeIDAny
		m.word2 = MatchtagNone
	}
	return m, nil
}

func (m *Message) Incref() { ratomic.AddInt32(&m.refcnt, 1) }

// Decref releases one reference; it returns true when this call dropped the
// message's last reference and released its storage.
func (m *Message) Decref() bool {
	if ratomic.AddInt32(&m.refcnt, -1) > 0 {
		return false
	}
	m.mu.Lock()
	m.topic = ""
	m.payload = nil
	m.routes = nil
	m.aux = nil
	m.mu.Unlock()
	return true
}

func (m *Message) Type() Type   { return m.typ }
func (m *Message) Flags() Flags { return m.flags }

func (m *Message) SetType(typ Type) error {
	if typ != TypeRequest && typ != TypeResponse && typ != TypeEvent && typ != TypeKeepalive {
		return cos.ErrInvalidArgument("message: unknown type %v", typ)
	}
	m.typ = typ
	return nil
}

// SetFlags validates the STREAMING/NORESPONSE mutual exclusion invariant
// (section 3) before installing the new flag set.
func (m *Message) SetFlags(flags Flags) error {
	if flags&FlagStreaming != 0 && flags&FlagNoResponse != 0 {
		return cos.ErrInvalidArgument("message: STREAMING and NORESPONSE are mutually exclusive")
	}
	m.flags = flags
	return nil
}

func (m *Message) SetUserID(userid uint32) error {
	m.userid = userid
	return nil
}

func (m *Message) UserID() uint32 { return m.userid }

func (m *Message) SetRoleMask(rolemask uint32) error {
	m.rolemask = rolemask
	return nil
}

func (m *Message) RoleMask() uint32 { return m.rolemask }

func (m *Message) SetPayload(b []byte) error {
	m.payload = b
	m.flags |= FlagPayload
	return nil
}

// SetString sets the payload to str plus a trailing NUL, the convention
// get_string relies on to distinguish a string payload from arbitrary bytes.
func (m *Message) SetString(s string) error {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return m.SetPayload(b)
}

func (m *Message) Payload() ([]byte, bool) {
	if m.flags&FlagPayload == 0 {
		return nil, false
	}
	return m.payload, true
}

// GetString returns the payload with its trailing NUL stripped. It is a
// protocol error for the payload to lack the NUL terminator SetString
// always appends.
func (m *Message) GetString() (string, error) {
	b, ok := m.Payload()
	if !ok {
		return "", cos.ErrProtocol("message: PAYLOAD flag not set")
	}
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", cos.ErrProtocol("message: payload missing NUL terminator")
	}
	return string(b[:len(b)-1]), nil
}

func (m *Message) SetTopic(topic string) error {
	if topic == "" {
		return cos.ErrInvalidArgument("message: topic must be non-empty")
	}
	m.topic = topic
	m.flags |= FlagTopic
	return nil
}

func (m *Message) Topic() (string, bool) {
	if m.flags&FlagTopic == 0 {
		return "", false
	}
	return m.topic, true
}

// SetNodeID sets the REQUEST destination nodeid. Setting it to UPSTREAM a
// second time ("late", i.e. after an earlier nodeid was already recorded) is
// rejected: UPSTREAM is a routing-resolution outcome, not something a caller
// re-targets mid-flight.
func (m *Message) SetNodeID(nodeid uint32) error {
	if m.typ != TypeRequest {
		return cos.ErrInvalidArgument("message: nodeid only valid on REQUEST")
	}
	if nodeid == NodeIDUpstream && m.nodeidSet {
		return cos.ErrInvalidArgument("message: cannot set nodeid=UPSTREAM after nodeid already set")
	}
	m.word1 = nodeid
	m.nodeidSet = true
	return nil
}

func (m *Message) NodeID() (uint32, error) {
	if m.typ != TypeRequest {
		return 0, cos.ErrProtocol("message: nodeid only valid on REQUEST")
	}
	return m.word1, nil
}

func (m *Message) SetMatchtag(tag uint32) error {
	switch m.typ {
	case TypeRequest, TypeResponse:
		m.word2 = tag
		return nil
	default:
		return cos.ErrInvalidArgument("message: matchtag only valid on REQUEST/RESPONSE")
	}
}

func (m *Message) Matchtag() (uint32, error) {
	switch m.typ {
	case TypeRequest, TypeResponse:
		return m.word2, nil
	default:
		return 0, cos.ErrProtocol("message: matchtag only valid on REQUEST/RESPONSE")
	}
}

func (m *Message) SetErrnum(errnum uint32) error {
	switch m.typ {
	case TypeResponse, TypeKeepalive:
		m.word1 = errnum
		return nil
	default:
		return cos.ErrInvalidArgument("message: errnum only valid on RESPONSE/KEEPALIVE")
	}
}

func (m *Message) Errnum() (uint32, error) {
	switch m.typ {
	case TypeResponse, TypeKeepalive:
		return m.word1, nil
	default:
		return 0, cos.ErrProtocol("message: errnum only valid on RESPONSE/KEEPALIVE")
	}
}

func (m *Message) SetSeq(seq uint32) error {
	if m.typ != TypeEvent {
		return cos.ErrInvalidArgument("message: sequence only valid on EVENT")
	}
	m.word1 = seq
	return nil
}

func (m *Message) Seq() (uint32, error) {
	if m.typ != TypeEvent {
		return 0, cos.ErrProtocol("message: sequence only valid on EVENT")
	}
	return m.word1, nil
}

func (m *Message) SetStatus(status KeepaliveStatus) error {
	if m.typ != TypeKeepalive {
		return cos.ErrInvalidArgument("message: status only valid on KEEPALIVE")
	}
	m.word2 = uint32(status)
	return nil
}

func (m *Message) Status() (KeepaliveStatus, error) {
	if m.typ != TypeKeepalive {
		return 0, cos.ErrProtocol("message: status only valid on KEEPALIVE")
	}
	return KeepaliveStatus(m.word2), nil
}

// Aux is the interior-mutable side-table described in section 9: callers
// attach lazily-computed annotations (e.g. a parsed payload cache) to an
// otherwise logically-const shared message without introducing an ownership
// cycle back to the message itself.
func (m *Message) AuxSet(key, val string) {
	m.mu.Lock()
	if m.aux == nil {
		m.aux = make(map[string]string)
	}
	m.aux[key] = val
	m.mu.Unlock()
}

func (m *Message) AuxGet(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.aux[key]
	return v, ok
}

// Clone returns an independent copy with refcount 1, used by the overlay
// router when a message must be rewritten per-hop (route stack pushed)
// without mutating the caller's original.
func (m *Message) Clone() *Message {
	debug.Assert(m.typ != TypeAny, "cloning a message still in ANY state")
	c := &Message{
		refcnt:       1,
		typ:          m.typ,
		flags:        m.flags,
		userid:       m.userid,
		rolemask:     m.rolemask,
		word1:        m.word1,
		word2:        m.word2,
		nodeidSet:    m.nodeidSet,
		topic:        m.topic,
		routeEnabled: m.routeEnabled,
	}
	if m.payload != nil {
		c.payload = append([]byte(nil), m.payload...)
	}
	if m.routes != nil {
		c.routes = append([]string(nil), m.routes...)
	}
	return c
}
