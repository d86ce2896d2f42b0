// Manifest parsing, validation, and serialization.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizome

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/rhizome/sign"
)

const (
	// MaxManifestText caps the text block, NUL terminator excluded.
	MaxManifestText = 8192

	sigBlockLen = 1 + 64 // type byte + Ed25519 signature
)

// Field is one ordered key=value line of a manifest's text block.
type Field struct {
	Key   string
	Value string
}

// Manifest is a parsed bundle manifest: an ordered field list plus zero or
// more trailing signature blocks. raw caches the exact text-plus-NUL bytes
// so Serialize can reproduce byte-identical output for unmodified
// manifests, even across fields whose canonical
// re-encoding would reorder or reformat them.
type Manifest struct {
	Fields     []Field
	Signatures [][]byte
	raw        []byte // text block including trailing NUL, as last parsed/built
}

func (m *Manifest) Get(key string) (string, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (m *Manifest) set(key, value string) {
	for i := range m.Fields {
		if m.Fields[i].Key == key {
			m.Fields[i].Value = value
			return
		}
	}
	m.Fields = append(m.Fields, Field{key, value})
}

// New builds a manifest from fields in the given order and regenerates raw.
func New(fields []Field) *Manifest {
	m := &Manifest{Fields: fields}
	m.rebuildRaw()
	return m
}

func (m *Manifest) rebuildRaw() {
	var b bytes.Buffer
	for _, f := range m.Fields {
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	b.WriteByte(0)
	m.raw = b.Bytes()
}

// TextWithNUL returns the exact bytes a signature covers: the text
// portion inclusive of the terminating NUL.
func (m *Manifest) TextWithNUL() []byte { return m.raw }

// Serialize reproduces the full on-wire manifest: text+NUL followed by
// every signature block, in order.
func (m *Manifest) Serialize() []byte {
	out := make([]byte, 0, len(m.raw)+len(m.Signatures)*sigBlockLen)
	out = append(out, m.raw...)
	for _, s := range m.Signatures {
		out = append(out, s...)
	}
	return out
}

// Parse splits data into its text block and trailing signature blocks.
func Parse(data []byte) (*Manifest, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return nil, cos.NewErr(cos.KindParse, "manifest: no NUL terminator found")
	}
	if nul > MaxManifestText {
		return nil, cos.NewErr(cos.KindParse, "manifest: text block %d bytes exceeds max %d", nul, MaxManifestText)
	}
	text := data[:nul]
	rest := data[nul+1:]

	m := &Manifest{raw: data[:nul+1]}
	for _, line := range strings.Split(string(text), "\n") {
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, cos.NewErr(cos.KindParse, "manifest: malformed line %q", line)
		}
		m.Fields = append(m.Fields, Field{Key: line[:eq], Value: line[eq+1:]})
	}

	for len(rest) > 0 {
		if len(rest) < sigBlockLen {
			return nil, cos.NewErr(cos.KindParse, "manifest: truncated signature block (%d bytes left)", len(rest))
		}
		m.Signatures = append(m.Signatures, append([]byte{}, rest[:sigBlockLen]...))
		rest = rest[sigBlockLen:]
	}
	return m, nil
}

// Hash returns SHA-512 over TextWithNUL(), the quantity every signature
// block covers.
func (m *Manifest) Hash() [64]byte { return sign.HashManifest(m.raw) }

// Sign appends a fresh Ed25519 signature block over m's current hash.
func (m *Manifest) Sign(kp sign.KeyPair) {
	m.Signatures = append(m.Signatures, sign.SignManifest(kp.Private, m.Hash()))
}

// Validate checks the required-field invariants. It does not check
// signatures or filehash/filesize against a payload; Store.Add layers
// those on top.
func (m *Manifest) Validate() error {
	id, ok := m.Get("id")
	if !ok || len(id) != 64 || !isHexUpper(id) {
		return cos.NewErr(cos.KindValidation, "manifest: id missing or not a 64-char uppercase hex SID")
	}
	verStr, ok := m.Get("version")
	if !ok {
		return cos.NewErr(cos.KindValidation, "manifest: version required")
	}
	if _, err := strconv.ParseUint(verStr, 10, 64); err != nil {
		return cos.NewErr(cos.KindValidation, "manifest: version %q not a uint64", verStr)
	}
	filesizeStr, ok := m.Get("filesize")
	if !ok {
		return cos.NewErr(cos.KindValidation, "manifest: filesize required")
	}
	filesize, err := strconv.ParseInt(filesizeStr, 10, 64)
	if err != nil || filesize < 0 {
		return cos.NewErr(cos.KindValidation, "manifest: filesize %q invalid", filesizeStr)
	}
	service, ok := m.Get("service")
	if !ok {
		return cos.NewErr(cos.KindValidation, "manifest: service required")
	}
	if filesize > 0 {
		if _, ok := m.Get("filehash"); !ok {
			return cos.NewErr(cos.KindValidation, "manifest: filehash required when filesize > 0")
		}
	}
	if _, ok := m.Get("date"); !ok {
		return cos.NewErr(cos.KindValidation, "manifest: date required")
	}
	switch service {
	case "file":
		if _, ok := m.Get("name"); !ok {
			return cos.NewErr(cos.KindValidation, "manifest: name required for service=file")
		}
	case "MeshMS":
		sender, ok := m.Get("sender")
		if !ok || !isSID(sender) {
			return cos.NewErr(cos.KindValidation, "manifest: sender must be a valid SID for service=MeshMS")
		}
		recipient, ok := m.Get("recipient")
		if !ok || !isSID(recipient) {
			return cos.NewErr(cos.KindValidation, "manifest: recipient must be a valid SID for service=MeshMS")
		}
	}
	return nil
}

// Version returns the parsed version field (Validate must have passed).
func (m *Manifest) Version() uint64 {
	v, _ := m.Get("version")
	n, _ := strconv.ParseUint(v, 10, 64)
	return n
}

// Filesize returns the parsed filesize field.
func (m *Manifest) Filesize() int64 {
	v, _ := m.Get("filesize")
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func isHexUpper(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func isSID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
