// Package cos — short correlation ids and fast non-cryptographic hashing.
//
// Nothing here is a cryptographic primitive: SIDs, signatures, and content
// hashes are the crypto capability's job (see rhizome/sign). These ids only
// ever label a transient, in-process thing — a log line, an in-flight HTTP
// import, a bucket in a lookup table.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package cos

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const shortIDAlphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initShortID() {
	sid = shortid.MustNew(1, shortIDAlphabet, 1)
}

// GenTxnID returns a short, human-loggable id for a transient transaction —
// e.g. a single /rhizome/import POST, so its accepted/rejected log lines
// can be correlated. That import holds its parts in memory and writes no
// temp files.
func GenTxnID() string {
	sidOnce.Do(initShortID)
	return sid.MustGenerate()
}

// HashString is a fast, non-cryptographic hash; iface uses it to key the
// discovery sweep's (name, broadcast address) dedup set.
func HashString(s string) uint64 {
	h := xxhash.New64()
	_, _ = h.WriteString(s)
	return h.Sum64()
}

// HashBytes is the []byte counterpart of HashString.
func HashBytes(b []byte) uint64 {
	h := xxhash.New64()
	_, _ = h.Write(b)
	return h.Sum64()
}
