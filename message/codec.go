package message

import (
	"encoding/binary"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

// protoFrameLen is the fixed size of the mandatory protocol frame: magic,
// version, type, flags (4 bytes) followed by four big-endian uint32 words.
const protoFrameLen = 4 + 4*4

func frameSize(n int) int {
	if n < 0xff {
		return 1 + n
	}
	return 1 + 4 + n
}

func appendFrame(buf, data []byte) []byte {
	n := len(data)
	if n < 0xff {
		buf = append(buf, byte(n))
	} else {
		buf = append(buf, 0xff)
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(n))
		buf = append(buf, l[:]...)
	}
	return append(buf, data...)
}

// readFrame consumes one length-prefixed frame off the front of buf,
// returning its payload and the remaining bytes.
func readFrame(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 1 {
		return nil, nil, cos.ErrProtocol("message: truncated frame length")
	}
	n := int(buf[0])
	rest = buf[1:]
	if buf[0] == 0xff {
		if len(rest) < 4 {
			return nil, nil, cos.ErrProtocol("message: truncated extended frame length")
		}
		n = int(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
	}
	if len(rest) < n {
		return nil, nil, cos.ErrProtocol("message: truncated frame body")
	}
	return rest[:n], rest[n:], nil
}

// EncodeSize returns the number of bytes Encode would produce.
func (m *Message) EncodeSize() (int, error) {
	if m.typ == TypeAny {
		return 0, cos.ErrProtocol("message: still in ANY state")
	}
	size := 0
	if m.flags&FlagRoute != 0 {
		for _, r := range m.routes {
			size += frameSize(len(r))
		}
		size += frameSize(0) // delimiter
	}
	if m.flags&FlagTopic != 0 {
		if m.topic == "" {
			return 0, cos.ErrInvalidArgument("message: TOPIC flag set with empty topic")
		}
		size += frameSize(len(m.topic))
	}
	if m.flags&FlagPayload != 0 {
		size += frameSize(len(m.payload))
	}
	size += frameSize(protoFrameLen)
	return size, nil
}

// Encode renders the message per the wire format of section 3/6: a
// concatenation of length-prefixed frames (route frames + delimiter, topic,
// payload, each optional) terminated by the mandatory protocol frame.
func (m *Message) Encode() ([]byte, error) {
	size, err := m.EncodeSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, size)

	if m.flags&FlagRoute != 0 {
		for _, r := range m.routes {
			buf = appendFrame(buf, []byte(r))
		}
		buf = appendFrame(buf, nil) // delimiter
	}
	if m.flags&FlagTopic != 0 {
		buf = appendFrame(buf, []byte(m.topic))
	}
	if m.flags&FlagPayload != 0 {
		buf = appendFrame(buf, m.payload)
	}

	var proto [protoFrameLen]byte
	proto[0] = protoMagic
	proto[1] = protoVersion
	proto[2] = byte(m.typ)
	proto[3] = byte(m.flags)
	binary.BigEndian.PutUint32(proto[4:8], m.userid)
	binary.BigEndian.PutUint32(proto[8:12], m.rolemask)
	binary.BigEndian.PutUint32(proto[12:16], m.word1)
	binary.BigEndian.PutUint32(proto[16:20], m.word2)
	buf = appendFrame(buf, proto[:])

	return buf, nil
}

// Decode parses buf into a new message. Framing errors (truncation, bad
// magic/version, frame-count mismatch) are reported as a generic protocol
// decode error, per section 4.A.
func Decode(buf []byte) (*Message, error) {
	var frames [][]byte
	rest := buf
	for len(rest) > 0 {
		var f []byte
		var err error
		f, rest, err = readFrame(rest)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, cos.ErrProtocol("message: empty wire buffer")
	}

	proto := frames[len(frames)-1]
	if len(proto) != protoFrameLen {
		return nil, cos.ErrProtocol("message: bad protocol frame length %d", len(proto))
	}
	if proto[0] != protoMagic {
		return nil, cos.ErrProtocol("message: bad magic byte 0x%x", proto[0])
	}
	if proto[1] != protoVersion {
		return nil, cos.ErrProtocol("message: unsupported version %d", proto[1])
	}
	typ := Type(proto[2])
	flags := Flags(proto[3])

	m := &Message{refcnt: 1, typ: typ, flags: flags}
	m.userid = binary.BigEndian.Uint32(proto[4:8])
	m.rolemask = binary.BigEndian.Uint32(proto[8:12])
	m.word1 = binary.BigEndian.Uint32(proto[12:16])
	m.word2 = binary.BigEndian.Uint32(proto[16:20])
	if typ == TypeRequest {
		m.nodeidSet = true
	}

	rem := frames[:len(frames)-1]
	idx := 0

	if flags&FlagRoute != 0 {
		m.routeEnabled = true
		m.routes = []string{}
		for idx < len(rem) && len(rem[idx]) > 0 {
			m.routes = append(m.routes, string(rem[idx]))
			idx++
		}
		if idx >= len(rem) {
			return nil, cos.ErrProtocol("message: missing route delimiter frame")
		}
		idx++ // skip the empty delimiter
	}
	if flags&FlagTopic != 0 {
		if idx >= len(rem) {
			return nil, cos.ErrProtocol("message: missing topic frame")
		}
		m.topic = string(rem[idx])
		idx++
	}
	if flags&FlagPayload != 0 {
		if idx >= len(rem) {
			return nil, cos.ErrProtocol("message: missing payload frame")
		}
		m.payload = rem[idx]
		idx++
	}
	if idx != len(rem) {
		return nil, cos.ErrProtocol("message: %d unexpected trailing frame(s)", len(rem)-idx)
	}

	return m, nil
}
