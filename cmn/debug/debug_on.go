//go:build debug

// Package debug provides assertion helpers that panic on violation when the
// binary is built with the "debug" tag, and are no-ops otherwise.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if cond {
		return
	}
	if len(args) == 0 {
		panic("assertion failed")
	}
	panic(fmt.Sprint(args...))
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}

// AssertMutexLocked and friends perform no check: sync.Mutex exposes no
// public "is locked" query, so they accept any lock in any state.
func AssertMutexLocked(m *sync.Mutex)      { _ = m }
func AssertRWMutexLocked(m *sync.RWMutex)  { _ = m }
func AssertRWMutexRLocked(m *sync.RWMutex) { _ = m }
