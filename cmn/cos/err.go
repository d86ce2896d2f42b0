// Package cos provides common low-level types and utilities shared by every
// meshd package: error kinds, byte-size constants, hashing, and ids.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	pkgerrors "github.com/pkg/errors"

	"github.com/serval-mesh/meshd/cmn/debug"
)

// Kind is the closed set of error kinds: every error
// surfaced by a core package can be classified into exactly one of these so
// callers can branch on "what kind of thing went wrong" without type
// switching on concrete error types.
type Kind int

const (
	KindParse Kind = iota
	KindValidation
	KindCrypto
	KindIO
	KindSpace
	KindNotFound
	KindStale
	KindAlreadyPresent
	KindUnreachable
	KindTimeout
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindCrypto:
		return "crypto"
	case KindIO:
		return "io"
	case KindSpace:
		return "space"
	case KindNotFound:
		return "not-found"
	case KindStale:
		return "stale"
	case KindAlreadyPresent:
		return "already-present"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// KindErr is the single typed-error shape used across meshd: a Kind plus a
// message plus (for I/O failures that must not lose their syscall context)
// an underlying cause wrapped with github.com/pkg/errors so callers can
// still recover it via errors.Cause while switching on Kind for control flow.
type KindErr struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *KindErr) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindErr) Unwrap() error { return e.Err }

func NewErr(k Kind, format string, a ...any) *KindErr {
	return &KindErr{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// WrapErr reclassifies an underlying error (typically a syscall or os error)
// into a Kind, preserving it for errors.Cause/errors.Unwrap.
func WrapErr(k Kind, err error, format string, a ...any) *KindErr {
	return &KindErr{Kind: k, Msg: fmt.Sprintf(format, a...), Err: pkgerrors.Wrap(err, k.String())}
}

func IsKind(err error, k Kind) bool {
	var ke *KindErr
	if errors.As(err, &ke) {
		return ke.Kind == k
	}
	return false
}

func IsNotFound(err error) bool       { return IsKind(err, KindNotFound) }
func IsStale(err error) bool          { return IsKind(err, KindStale) }
func IsAlreadyPresent(err error) bool { return IsKind(err, KindAlreadyPresent) }
func IsSpace(err error) bool          { return IsKind(err, KindSpace) }
func IsUnreachableErr(err error) bool { return IsKind(err, KindUnreachable) }
func IsTimeout(err error) bool        { return IsKind(err, KindTimeout) }
func IsProtocol(err error) bool       { return IsKind(err, KindProtocol) }
func IsValidation(err error) bool     { return IsKind(err, KindValidation) }
func IsParse(err error) bool          { return IsKind(err, KindParse) }
func IsCrypto(err error) bool         { return IsKind(err, KindCrypto) }
func IsIO(err error) bool             { return IsKind(err, KindIO) }

// Errs accumulates up to maxErrs distinct errors, e.g. while closing every
// interface during shutdown; none block on the next.
type Errs struct {
	errs []error
	cnt  int64
	mu   sync.Mutex
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more error%s)", e.errs[0], len(e.errs)-1, Plural(len(e.errs)-1))
}

//
// syscall classification — used by the interface manager to decide
// whether a failed sendto/recvfrom should close the owning resource.
//

func IsErrSyscallTimeout(err error) bool {
	var serr *os.SyscallError
	return errors.As(err, &serr) && serr.Timeout()
}

func IsEAgain(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func IsUnreachable(err error) bool {
	return IsErrConnectionRefused(err) || isErrDNSLookup(err) || errors.Is(err, os.ErrDeadlineExceeded)
}
