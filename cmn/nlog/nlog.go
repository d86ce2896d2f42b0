// Package nlog is meshd's logger: buffered, timestamped, severity-leveled,
// with background flushing and size-based rotation.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serval-mesh/meshd/cmn/mono"
)

const (
	fixedSize   = 64 * 1024
	extraSize   = 32 * 1024
	maxLineSize = 2 * 1024
)

// MaxSize is the size (bytes) at which a log file is rotated.
var MaxSize int64 = 4 * 1024 * 1024

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = "IWE"

type fixed struct {
	buf  []byte
	woff int
}

func (f *fixed) size() int  { return len(f.buf) }
func (f *fixed) avail() int { return len(f.buf) - f.woff }
func (f *fixed) reset()     { f.woff = 0 }
func (f *fixed) eol()       { f.writeByte('\n') }
func (f *fixed) writeByte(b byte) {
	if f.woff < len(f.buf) {
		f.buf[f.woff] = b
		f.woff++
	}
}
func (f *fixed) writeString(s string) {
	n := copy(f.buf[f.woff:], s)
	f.woff += n
}
func (f *fixed) Write(p []byte) (int, error) {
	n := copy(f.buf[f.woff:], p)
	f.woff += n
	return n, nil
}
func (f *fixed) flush(w *os.File) (int, error) {
	if w == nil {
		return 0, nil
	}
	return w.Write(f.buf[:f.woff])
}

type nlogw struct {
	file           *os.File
	pw, buf1, buf2 *fixed
	line           fixed
	toFlush        []*fixed
	last           atomic.Int64
	written        atomic.Int64
	sev            severity
	erred          atomic.Bool
	mw             sync.Mutex
}

var (
	nlogs         [3]*nlogw
	toStderr      = true
	alsoToStderr  bool
	logDir        string
	title         string
	pid           = os.Getpid()
	host, _       = os.Hostname()
	onceInitFiles sync.Once
	pool          sync.Pool
)

func newNlogw(sev severity) *nlogw {
	n := &nlogw{
		sev:     sev,
		buf1:    &fixed{buf: make([]byte, fixedSize)},
		buf2:    &fixed{buf: make([]byte, fixedSize)},
		line:    fixed{buf: make([]byte, maxLineSize)},
		toFlush: make([]*fixed, 0, 4),
	}
	n.pw = n.buf1
	return n
}

func initFiles() {
	nlogs[sevInfo] = newNlogw(sevInfo)
	nlogs[sevWarn] = newNlogw(sevWarn)
	nlogs[sevErr] = newNlogw(sevErr)
	if logDir == "" {
		return
	}
	for _, n := range nlogs {
		if err := n.rotate(time.Now()); err != nil {
			n.erred.Store(true)
		}
	}
}

// SetLogDir points logging at a directory; empty keeps logging on stderr only.
func SetLogDir(dir string) { logDir = dir }

// SetAlsoToStderr additionally mirrors file-bound lines to stderr.
func SetAlsoToStderr(v bool) { alsoToStderr = v }

// SetTitle is prepended on every rotation.
func SetTitle(s string) { title = s }

func log(sev severity, depth int, format string, args ...any) {
	onceInitFiles.Do(initFiles)
	switch {
	case toStderr:
		fb := alloc()
		sprintf(sev, depth, format, fb, args...)
		fb.flush(os.Stderr)
		free(fb)
	case alsoToStderr || sev >= sevWarn:
		fb := alloc()
		sprintf(sev, depth, format, fb, args...)
		if alsoToStderr || sev >= sevErr {
			fb.flush(os.Stderr)
		}
		if sev >= sevWarn {
			w := nlogs[sevErr]
			w.mw.Lock()
			w.write(fb)
			w.mw.Unlock()
		}
		w := nlogs[sevInfo]
		w.mw.Lock()
		w.write(fb)
		w.mw.Unlock()
		free(fb)
	default:
		nlogs[sevInfo].printf(sev, depth, format, args...)
	}
}

func (n *nlogw) since(now int64) time.Duration { return time.Duration(now - n.last.Load()) }

func nowNano() int64 { return mono.NanoTime() }

func (n *nlogw) printf(sev severity, depth int, format string, args ...any) {
	n.mw.Lock()
	n.line.reset()
	sprintf(sev, depth+1, format, &n.line, args...)
	n.write(&n.line)
	n.mw.Unlock()
}

// under mw-lock
func (n *nlogw) write(line *fixed) {
	n.pw.Write(line.buf[:line.woff])
	if n.pw.avail() > maxLineSize {
		return
	}
	n.toFlush = append(n.toFlush, n.pw)
	n.get()
}

func (n *nlogw) get() {
	prev := n.pw
	switch {
	case prev == n.buf1:
		if n.buf2 != nil {
			n.pw = n.buf2
		} else {
			n.pw = alloc()
		}
		n.buf1 = nil
	case prev == n.buf2:
		if n.buf1 != nil {
			n.pw = n.buf1
		} else {
			n.pw = alloc()
		}
		n.buf2 = nil
	default:
		if n.buf1 != nil {
			n.pw = n.buf1
		} else if n.buf2 != nil {
			n.pw = n.buf2
		} else {
			n.pw = alloc()
		}
	}
}

func (n *nlogw) put(pw *fixed) {
	n.mw.Lock()
	if n.buf1 == nil {
		n.buf1 = pw
	} else if n.buf2 == nil {
		n.buf2 = pw
	}
	n.mw.Unlock()
}

func (n *nlogw) flush() {
	for {
		n.mw.Lock()
		if len(n.toFlush) == 0 {
			n.mw.Unlock()
			break
		}
		pw := n.toFlush[0]
		copy(n.toFlush, n.toFlush[1:])
		n.toFlush = n.toFlush[:len(n.toFlush)-1]
		n.mw.Unlock()
		n.do(pw)
	}
}

func (n *nlogw) do(pw *fixed) {
	if n.erred.Load() {
		os.Stderr.Write(pw.buf[:pw.woff])
	} else if n.file != nil {
		nw, err := pw.flush(n.file)
		if err != nil {
			n.erred.Store(true)
		}
		n.written.Add(int64(nw))
		n.last.Store(mono.NanoTime())
	}
	pw.reset()
	if pw.size() == extraSize {
		free(pw)
	} else {
		n.put(pw)
	}
	if logDir != "" && n.written.Load() >= MaxSize {
		n.file.Close()
		n.rotate(time.Now())
	}
}

var sevName = [3]string{"INFO", "WARN", "ERROR"}

func (n *nlogw) rotate(now time.Time) error {
	name := fmt.Sprintf("meshd.%s.%s.%02d%02d-%02d%02d%02d.%d.log",
		sevName[n.sev], host, now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), pid)
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	n.file = f
	n.written.Store(0)
	n.erred.Store(false)
	hdr := fmt.Sprintf("Started at %s, %s for %s/%s\n", now.Format("2006/01/02 15:04:05"), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if title != "" {
		n.file.WriteString(title + "\n")
	}
	_, err = n.file.WriteString(hdr)
	return err
}

func formatHdr(s severity, depth int, fb *fixed) {
	_, fn, ln, ok := runtime.Caller(3 + depth)
	fb.writeByte(sevChar[s])
	fb.writeByte(' ')
	fb.writeString(time.Now().Format("15:04:05.000000"))
	fb.writeByte(' ')
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	fb.writeString(fn)
	fb.writeByte(':')
	fb.writeString(strconv.Itoa(ln))
	fb.writeByte(' ')
}

func sprintf(sev severity, depth int, format string, fb *fixed, args ...any) {
	formatHdr(sev, depth+1, fb)
	if format == "" {
		fmt.Fprintln(fb, args...)
	} else {
		fmt.Fprintf(fb, format, args...)
		fb.eol()
	}
}

func alloc() *fixed {
	if v := pool.Get(); v != nil {
		fb := v.(*fixed)
		fb.reset()
		return fb
	}
	return &fixed{buf: make([]byte, extraSize)}
}

func free(fb *fixed) {
	if fb.size() == extraSize {
		pool.Put(fb)
	}
}
