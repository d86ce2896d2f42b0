// Shared helpers: bare-file manifest construction, BAR wire parsing, and
// a bytes.Reader adapter for ScanMultipart.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/rhizome"
	"github.com/serval-mesh/meshd/rhizome/sign"
)

func newReader(b []byte) io.Reader { return bytes.NewReader(b) }

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

// buildAddFileManifest applies the configured manifest template, then
// fills defaults for any field the template left out: service "file",
// date = now, name = filename, id bound to the signing key's SID. When the
// filename carries no extension, a content-type sniff guesses one.
func buildAddFileManifest(kp sign.KeyPair, template string, payload []byte, filename string, now time.Time) *rhizome.Manifest {
	if !strings.Contains(filename, ".") {
		filename += extensionFor(http.DetectContentType(payload))
	}
	fields := parseTemplateFields(template)
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Key] = true
	}
	setDefault := func(key, value string) {
		if !have[key] {
			fields = append(fields, rhizome.Field{Key: key, Value: value})
		}
	}
	setDefault("id", sign.HexSID(kp.Public))
	setDefault("version", strconv.FormatInt(now.UnixMilli(), 10))
	setDefault("filesize", strconv.Itoa(len(payload)))
	setDefault("service", "file")
	setDefault("date", strconv.FormatInt(now.UnixMilli(), 10))
	setDefault("name", filename)
	if len(payload) > 0 {
		setDefault("filehash", sign.PayloadHash(payload))
	}
	m := rhizome.New(fields)
	m.Sign(kp)
	return m
}

// parseTemplateFields reads the manifesttemplate option's value: the same
// newline-delimited key=value form a manifest text block uses.
func parseTemplateFields(template string) []rhizome.Field {
	var fields []rhizome.Field
	for _, line := range strings.Split(template, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		fields = append(fields, rhizome.Field{Key: line[:eq], Value: line[eq+1:]})
	}
	return fields
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "text/plain"):
		return ".txt"
	case strings.HasPrefix(contentType, "application/pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

// parsePeerBARs splits raw into 17-byte BAR records ("a list of the
// local BARs in the selected range").
func parsePeerBARs(raw []byte) ([]rhizome.BAR, error) {
	if len(raw)%rhizome.BARSize != 0 {
		return nil, cos.NewErr(cos.KindParse, "rhizomesync: BAR list length %d not a multiple of %d", len(raw), rhizome.BARSize)
	}
	out := make([]rhizome.BAR, 0, len(raw)/rhizome.BARSize)
	for i := 0; i < len(raw); i += rhizome.BARSize {
		bar, err := rhizome.UnmarshalBAR(raw[i : i+rhizome.BARSize])
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}
