// Package nlog public API: the handful of entry points the rest of meshd calls.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package nlog

import "time"

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Flush drains any buffered lines to their files; schedule it as a
// low-priority alarm rather than calling it from the hot path.
func Flush(exit ...bool) {
	onceInitFiles.Do(initFiles)
	ex := len(exit) > 0 && exit[0]
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		n := nlogs[sev]
		if n == nil {
			continue
		}
		n.mw.Lock()
		if n.file != nil && n.pw.woff > 0 {
			n.toFlush = append(n.toFlush, n.pw)
			n.get()
		}
		n.mw.Unlock()
		n.flush()
		if ex && n.file != nil {
			n.file.Sync()
			n.file.Close()
		}
	}
}

// Since reports how long it has been since anything was last written to a
// log file (used to decide whether a flush is overdue).
func Since() time.Duration {
	onceInitFiles.Do(initFiles)
	now := nowNano()
	longest := nlogs[sevInfo].since(now)
	if d := nlogs[sevErr].since(now); d > longest {
		longest = d
	}
	return longest
}
