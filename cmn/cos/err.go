// Package cos provides common low-level types and utilities shared by every
// package in this module: the error taxonomy of section 7, a small
// multi-error aggregator, and process-abort helpers.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"

	"github.com/pkg/errors"

	"github.com/flux-framework/flux-core-go/cmn/nlog"
)

// Kind is the semantic error taxonomy from section 7: every failure a
// watcher callback can hand back to a request is one of these, never a bare
// type assertion.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindProtocol
	KindUnreachable
	KindVersionConflict
	KindNoData
	KindPermissionDenied
	KindNotFound
	KindTransientTransport
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid-argument"
	case KindProtocol:
		return "protocol-error"
	case KindUnreachable:
		return "unreachable"
	case KindVersionConflict:
		return "version-conflict"
	case KindNoData:
		return "no-data"
	case KindPermissionDenied:
		return "permission-denied"
	case KindNotFound:
		return "not-found"
	case KindTransientTransport:
		return "transient-transport"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message, so that callers can both log a readable
// string and switch on Kind() to pick a wire errnum.
type Error struct {
	kind Kind
	msg  string
}

func NewError(k Kind, format string, a ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, a...)}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind    { return e.kind }

func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == k
	}
	return false
}

// convenience constructors, one per taxonomy entry
func ErrInvalidArgument(format string, a ...any) error {
	return NewError(KindInvalidArgument, format, a...)
}
func ErrProtocol(format string, a ...any) error { return NewError(KindProtocol, format, a...) }
func ErrUnreachable(format string, a ...any) error {
	return NewError(KindUnreachable, format, a...)
}
func ErrVersionConflict(format string, a ...any) error {
	return NewError(KindVersionConflict, format, a...)
}
func ErrNoData(format string, a ...any) error { return NewError(KindNoData, format, a...) }
func ErrPermissionDenied(format string, a ...any) error {
	return NewError(KindPermissionDenied, format, a...)
}
func ErrNotFound(format string, a ...any) error { return NewError(KindNotFound, format, a...) }
func ErrTransientTransport(format string, a ...any) error {
	return NewError(KindTransientTransport, format, a...)
}

//
// Errs: a small bounded multi-error aggregator (e.g. housekeeping script
// failures across many ranks, none of which should block the others)
//

const maxErrs = 8

type Errs struct {
	errs []error
	cnt  int64
	mu   sync.Mutex
}

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) Error() (s string) {
	cnt := e.Cnt()
	if cnt == 0 {
		return
	}
	e.mu.Lock()
	err := e.errs[0]
	e.mu.Unlock()
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more)", err, cnt-1)
	}
	return err.Error()
}

//
// abnormal termination
//

const fatalPrefix = "FATAL ERROR: "

func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	nlog.ErrorDepth(1, msg)
	nlog.Flush()
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
