/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package iface

import (
	"encoding/binary"
	"os"

	"github.com/serval-mesh/meshd/cmn/cos"
)

// File-backed "dummy" interface record layout: fixed 2048-byte
// records, a 4-byte header, payload length at bytes 110-111, payload
// starting at byte 128.
const (
	dummyRecordSize   = 2048
	dummyHeaderMagic0 = 0x01
	dummyLenOffset    = 110
	dummyPayloadOff   = 128
)

// writeDummyRecord appends one record to f at offset. The offset is held
// in Interface state and passed explicitly (pwrite, not lseek+write) so a
// concurrent reader of the shared file never sees a torn record.
func writeDummyRecord(f *os.File, offset int64, payload []byte) error {
	if len(payload) > dummyRecordSize-dummyPayloadOff {
		return cos.NewErr(cos.KindSpace, "dummy interface payload %d exceeds record capacity %d", len(payload), dummyRecordSize-dummyPayloadOff)
	}
	rec := make([]byte, dummyRecordSize)
	rec[0] = dummyHeaderMagic0
	binary.LittleEndian.PutUint16(rec[dummyLenOffset:], uint16(len(payload)))
	copy(rec[dummyPayloadOff:], payload)
	_, err := f.WriteAt(rec, offset)
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "dummy interface: write record at %d", offset)
	}
	return nil
}

// readDummyRecord reads one record at offset, returning its payload and
// (false, nil) if offset is at or past EOF (no record yet).
func readDummyRecord(f *os.File, offset int64) (payload []byte, ok bool, err error) {
	rec := make([]byte, dummyRecordSize)
	n, err := f.ReadAt(rec, offset)
	if n < dummyRecordSize {
		return nil, false, nil // not a full record yet
	}
	if err != nil {
		return nil, false, cos.WrapErr(cos.KindIO, err, "dummy interface: read record at %d", offset)
	}
	if rec[0] != dummyHeaderMagic0 {
		return nil, false, cos.NewErr(cos.KindProtocol, "dummy interface: bad record header at %d", offset)
	}
	plen := binary.LittleEndian.Uint16(rec[dummyLenOffset:])
	if int(plen) > dummyRecordSize-dummyPayloadOff {
		return nil, false, cos.NewErr(cos.KindProtocol, "dummy interface: record length %d out of range", plen)
	}
	out := make([]byte, plen)
	copy(out, rec[dummyPayloadOff:dummyPayloadOff+int(plen)])
	return out, true, nil
}
