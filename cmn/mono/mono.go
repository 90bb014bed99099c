// Package mono provides a single, monotonic notion of "now" shared by the
// reactor and every watcher and service built on top of it.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, measured off the
// runtime's monotonic clock reading (time.Since never observes wall-clock
// adjustments). It intentionally avoids the private runtime.nanotime
// linkname the upstream package used: a few extra nanoseconds per call is a
// better trade than depending on a runtime symbol that is not part of the
// Go1 compatibility guarantee.
func NanoTime() int64 { return int64(time.Since(start)) }

// Since is a convenience wrapper for a duration measured against NanoTime.
func Since(ns int64) time.Duration { return time.Duration(NanoTime() - ns) }
