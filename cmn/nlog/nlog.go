// Package nlog is the broker-wide logger: leveled, timestamped, optionally
// file-backed with size-based rotation. Every package in this module logs
// through here rather than the standard "log" package so that severity,
// rotation, and destination stay centrally configurable.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

// MaxSize is the rotation threshold for a file-backed log.
var MaxSize int64 = 4 * 1024 * 1024

var (
	mu           sync.Mutex
	toStderr     = true
	alsoToStderr bool
	logDir       string
	aisrole      string
	title        string

	file    *os.File
	writer  *bufio.Writer
	written int64
)

// SetLogDirRole points the logger at a directory and tags every rotated file
// with the broker's role (e.g. "broker", "job-manager"). Passing an empty
// dir keeps logging on stderr only.
func SetLogDirRole(dir, role string) {
	mu.Lock()
	defer mu.Unlock()
	logDir, aisrole = dir, role
	if dir == "" {
		return
	}
	toStderr = false
	if err := rotate(); err != nil {
		toStderr = true
		fmt.Fprintf(os.Stderr, "nlog: cannot open log directory %q: %v\n", dir, err)
	}
}

// SetTitle sets a banner line written at the top of every rotated file.
func SetTitle(s string) {
	mu.Lock()
	title = s
	mu.Unlock()
}

// SetAlsoToStderr additionally mirrors file-backed output to stderr.
func SetAlsoToStderr(v bool) {
	mu.Lock()
	alsoToStderr = v
	mu.Unlock()
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func WarningDepth(depth int, args ...any) { log(sevWarn, depth+1, "", args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	line := sprintf(sev, depth+1, format, args...)

	mu.Lock()
	defer mu.Unlock()

	if toStderr || alsoToStderr || sev >= sevErr {
		os.Stderr.WriteString(line)
	}
	if toStderr || writer == nil {
		return
	}
	n, _ := writer.WriteString(line)
	written += int64(n)
	if written >= MaxSize {
		writer.Flush()
		file.Close()
		rotate()
	}
}

func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		writer.Flush()
	}
}

func sprintf(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	return b.String()
}

// under mu
func rotate() error {
	now := time.Now()
	name := fmt.Sprintf("%s.%s.%s.log", aisrole, now.Format("20060102-150405"), strconv.Itoa(os.Getpid()))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	file, writer, written = f, bufio.NewWriter(f), 0
	hdr := fmt.Sprintf("started %s, %s/%s\n", now.Format(time.RFC3339), runtime.GOOS, runtime.GOARCH)
	if title != "" {
		hdr = title + "\n" + hdr
	}
	writer.WriteString(hdr)
	return nil
}
