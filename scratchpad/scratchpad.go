// Package scratchpad implements the broker-scope KV store of section 4.D:
// load-link/store-conditional atomic updates over an opaque value, plus the
// SC-stream streaming optimisation that lets a writer contend for a key
// without the client re-issuing a full SC on every conflict.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package scratchpad

import (
	"encoding/json"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/message"
	"github.com/flux-framework/flux-core-go/stats"
)

// reservedKey is read-only and resolves to a snapshot of the whole pad.
const reservedKey = "."

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type entry struct {
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type llRequest struct {
	Key string `json:"key"`
}

type llResponse struct {
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type scRequest struct {
	Key     string          `json:"key"`
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type scRetryRequest struct {
	Matchtag uint32          `json:"matchtag"`
	Version  uint64          `json:"version"`
	Data     json.RawMessage `json:"data"`
}

type deleteRequest struct {
	Key string `json:"key"`
}

type pendingStream struct {
	matchtag uint32
	key      string
	reply    func(*message.Message) error
}

// Pad is one broker's scratchpad instance. Every operation is called from
// the owning reactor's goroutine (section 5), so mu only needs to guard
// against a test harness calling in from more than one goroutine; it is not
// load-bearing in production use.
type Pad struct {
	mu sync.Mutex

	db            *buntdb.DB
	globalVersion uint64
	pending       map[uint32]*pendingStream

	Stats *stats.Registry
}

// New opens an in-memory entries store. buntdb's single-writer transaction
// model is what gives "no intermediate states are ever visible" for free:
// every mutating operation below is one Update transaction.
func New(reg *stats.Registry) (*Pad, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, cos.ErrInvalidArgument("scratchpad: open store: %v", err)
	}
	return &Pad{db: db, pending: make(map[uint32]*pendingStream), Stats: reg}, nil
}

func (p *Pad) Close() error { return p.db.Close() }

func errnumFor(k cos.Kind) uint32 { return uint32(k) }

func newResponse(req *message.Message) (*message.Message, error) {
	resp, err := message.Create(message.TypeResponse)
	if err != nil {
		return nil, err
	}
	if mt, err := req.Matchtag(); err == nil {
		_ = resp.SetMatchtag(mt)
	}
	return resp, nil
}

func (p *Pad) get(key string) (uint64, json.RawMessage, bool) {
	var raw string
	err := p.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return 0, nil, false
	}
	var e entry
	if err := jsonAPI.UnmarshalFromString(raw, &e); err != nil {
		return 0, nil, false
	}
	return e.Version, e.Data, true
}

func (p *Pad) put(key string, version uint64, data json.RawMessage) error {
	b, err := jsonAPI.Marshal(entry{Version: version, Data: data})
	if err != nil {
		return cos.ErrInvalidArgument("scratchpad: encode entry: %v", err)
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	})
}

func (p *Pad) bumpGlobal() { p.globalVersion++ }

func (p *Pad) snapshot() llResponse {
	if p.globalVersion == 0 {
		return llResponse{Version: 0, Data: nil}
	}
	entries := make(map[string]entry)
	_ = p.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			var e entry
			if err := jsonAPI.UnmarshalFromString(value, &e); err == nil {
				entries[key] = e
			}
			return true
		})
	})
	b, _ := jsonAPI.Marshal(entries)
	return llResponse{Version: p.globalVersion, Data: b}
}

// LL serves the load-link RPC: it never fails.
func (p *Pad) LL(req *message.Message) (*message.Message, error) {
	var in llRequest
	if err := req.GetJSON(&in); err != nil {
		return nil, err
	}
	if p.Stats != nil {
		p.Stats.ScratchpadLL.Inc()
	}

	p.mu.Lock()
	var out llResponse
	if in.Key == reservedKey {
		out = p.snapshot()
	} else if v, d, ok := p.get(in.Key); ok {
		out = llResponse{Version: v, Data: d}
	} else {
		out = llResponse{Version: 0, Data: nil}
	}
	p.mu.Unlock()

	resp, err := newResponse(req)
	if err != nil {
		return nil, err
	}
	if err := resp.SetJSON(out); err != nil {
		return nil, err
	}
	return resp, nil
}

// SC serves the store-conditional RPC.
func (p *Pad) SC(req *message.Message) (*message.Message, error) {
	var in scRequest
	if err := req.GetJSON(&in); err != nil {
		return nil, err
	}
	if in.Key == reservedKey {
		return nil, cos.ErrInvalidArgument("scratchpad: key %q is read-only", reservedKey)
	}
	if p.Stats != nil {
		p.Stats.ScratchpadSC.Inc()
	}

	p.mu.Lock()
	cur, _, ok := p.get(in.Key)
	if (ok && cur != in.Version) || (!ok && in.Version != 0) {
		p.mu.Unlock()
		if p.Stats != nil {
			p.Stats.ScratchpadConflict.Inc()
		}
		return nil, cos.ErrVersionConflict("scratchpad: key %q is at version %d, not %d", in.Key, cur, in.Version)
	}
	err := p.put(in.Key, cur+1, in.Data)
	if err == nil {
		p.bumpGlobal()
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return newResponse(req)
}

// SCStream serves the sc-stream RPC. reply delivers every response on this
// streaming request, including the eventual terminal one; SCStream itself
// never returns a response for the caller to forward, only a Go error for a
// malformed request.
func (p *Pad) SCStream(req *message.Message, reply func(*message.Message) error) error {
	if req.Flags()&message.FlagStreaming == 0 {
		return cos.ErrProtocol("scratchpad: sc-stream request missing STREAMING flag")
	}
	var in scRequest
	if err := req.GetJSON(&in); err != nil {
		return err
	}
	if p.Stats != nil {
		p.Stats.ScratchpadSCStream.Inc()
	}
	mt, err := req.Matchtag()
	if err != nil {
		return err
	}

	p.mu.Lock()
	cur, curData, ok := p.get(in.Key)
	matches := (ok && cur == in.Version) || (!ok && in.Version == 0)
	if matches {
		putErr := p.put(in.Key, cur+1, in.Data)
		if putErr == nil {
			p.bumpGlobal()
		}
		p.mu.Unlock()
		if putErr != nil {
			return putErr
		}
		return sendTerminal(req, reply)
	}
	p.pending[mt] = &pendingStream{matchtag: mt, key: in.Key, reply: reply}
	p.mu.Unlock()

	resp, err := newResponse(req)
	if err != nil {
		return err
	}
	if err := resp.SetJSON(llResponse{Version: cur, Data: curData}); err != nil {
		return err
	}
	return reply(resp)
}

func sendTerminal(req *message.Message, reply func(*message.Message) error) error {
	resp, err := newResponse(req)
	if err != nil {
		return err
	}
	if err := resp.SetErrnum(errnumFor(cos.KindNoData)); err != nil {
		return err
	}
	return reply(resp)
}

// SCRetry resolves a pending SC-stream request by matchtag: either it
// applies the update and terminates the stream, or it hands the requester a
// fresh snapshot to retry against.
func (p *Pad) SCRetry(req *message.Message) error {
	if req.Flags()&message.FlagNoResponse == 0 {
		return cos.ErrProtocol("scratchpad: sc-retry request missing NORESPONSE flag")
	}
	var in scRetryRequest
	if err := req.GetJSON(&in); err != nil {
		return err
	}
	if p.Stats != nil {
		p.Stats.ScratchpadSCRetry.Inc()
	}

	p.mu.Lock()
	ps, ok := p.pending[in.Matchtag]
	if !ok {
		p.mu.Unlock()
		return cos.ErrNotFound("scratchpad: no pending sc-stream for matchtag %d", in.Matchtag)
	}
	delete(p.pending, in.Matchtag)

	cur, curData, curOK := p.get(ps.key)
	matches := (curOK && cur == in.Version) || (!curOK && in.Version == 0)
	var putErr error
	if matches {
		putErr = p.put(ps.key, cur+1, in.Data)
		if putErr == nil {
			p.bumpGlobal()
		}
	} else {
		p.pending[in.Matchtag] = ps
	}
	p.mu.Unlock()

	if matches {
		if putErr != nil {
			return putErr
		}
		resp, err := message.Create(message.TypeResponse)
		if err != nil {
			return err
		}
		_ = resp.SetMatchtag(ps.matchtag)
		if err := resp.SetErrnum(errnumFor(cos.KindNoData)); err != nil {
			return err
		}
		return ps.reply(resp)
	}

	resp, err := message.Create(message.TypeResponse)
	if err != nil {
		return err
	}
	_ = resp.SetMatchtag(ps.matchtag)
	if err := resp.SetJSON(llResponse{Version: cur, Data: curData}); err != nil {
		return err
	}
	return ps.reply(resp)
}

// Delete removes a key (no-op if absent) and bumps the global version.
func (p *Pad) Delete(req *message.Message) error {
	if req.Flags()&message.FlagNoResponse == 0 {
		return cos.ErrProtocol("scratchpad: delete request missing NORESPONSE flag")
	}
	var in deleteRequest
	if err := req.GetJSON(&in); err != nil {
		return err
	}
	if p.Stats != nil {
		p.Stats.ScratchpadDelete.Inc()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(in.Key)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
	p.bumpGlobal()
	return nil
}
