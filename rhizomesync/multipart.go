// Package rhizomesync implements the HTTP sync/direct protocol:
// enquiry/import/manifestbybar endpoints, BAR cursor reconciliation, and a
// loopback-only bare-file submission endpoint.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync

import (
	"bufio"
	"bytes"
	"io"

	"github.com/serval-mesh/meshd/cmn/cos"
)

// Part is one named multipart/form-data part's raw content.
type Part struct {
	Name     string
	Filename string
	Data     []byte
}

// ScanMultipart is a CRLF-aware boundary scanner that handles the
// streaming edge case of a boundary straddling two fixed-size reads
// with a CRLF exactly at the split. It reads incrementally from r via a
// bufio.Reader (so repeated small Reads are transparent to the caller)
// rather than requiring the whole body buffered up front.
//
// The two bytes preceding a boundary (\r\n) belong to the previous
// part and are truncated from the written file.
func ScanMultipart(r io.Reader, boundary string) ([]Part, error) {
	br := bufio.NewReaderSize(r, 4096)
	delim := []byte("--" + boundary)

	// consume the preamble up to and including the first boundary line.
	if err := skipToBoundary(br, delim); err != nil {
		return nil, err
	}

	var parts []Part
	for {
		name, filename, err := readPartHeaders(br)
		if err != nil {
			return nil, err
		}
		data, err := readPartBody(br, delim)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Part{Name: name, Filename: filename, Data: data})

		// readPartBody left the stream just past "\r\n--boundary"; what
		// follows decides whether another part begins.
		final, err := consumeBoundaryTail(br)
		if err != nil {
			return nil, err
		}
		if final {
			return parts, nil
		}
	}
}

func skipToBoundary(br *bufio.Reader, delim []byte) error {
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			return cos.NewErr(cos.KindParse, "multipart: no boundary found")
		}
		trimmed := bytes.TrimRight(line, "\r\n")
		if bytes.Equal(trimmed, delim) {
			return nil
		}
		if err != nil {
			return cos.NewErr(cos.KindParse, "multipart: no boundary found")
		}
	}
}

// consumeBoundaryTail reads the rest of a boundary line (after the
// "--boundary" token already matched) to see whether it ends in "--"
// (final boundary) or CRLF (more parts follow).
func consumeBoundaryTail(br *bufio.Reader) (final bool, err error) {
	rest, err := br.ReadBytes('\n')
	if err != nil {
		return false, cos.WrapErr(cos.KindParse, err, "multipart: truncated boundary line")
	}
	trimmed := bytes.TrimRight(rest, "\r\n")
	return bytes.Equal(trimmed, []byte("--")), nil
}

func readPartHeaders(br *bufio.Reader) (name, filename string, err error) {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", "", cos.NewErr(cos.KindParse, "multipart: missing headers")
		}
		trimmed := string(bytes.TrimRight([]byte(line), "\r\n"))
		if len(trimmed) == 0 {
			break // blank line ends the header block
		}
		if n, ok := dispositionParam(trimmed, "name"); ok {
			name = n
		}
		if fn, ok := dispositionParam(trimmed, "filename"); ok {
			filename = fn
		}
	}
	if name == "" {
		return "", "", cos.NewErr(cos.KindParse, "multipart: part missing name")
	}
	return name, filename, nil
}

func dispositionParam(line, param string) (value string, ok bool) {
	key := param + "=\""
	i := bytes.Index([]byte(line), []byte(key))
	if i > 0 && line[i-1] == 'e' { // don't let name=" match filename="
		return "", false
	}
	if i < 0 {
		return "", false
	}
	rest := line[i+len(key):]
	j := bytes.IndexByte([]byte(rest), '"')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// readPartBody reads bytes until the next boundary line, truncating the
// CRLF immediately preceding it, then
// consumes the boundary marker itself, leaving the stream positioned at
// the boundary's trailing CRLF/"--" for the next consumeBoundaryTail call.
func readPartBody(br *bufio.Reader, delim []byte) ([]byte, error) {
	var buf bytes.Buffer
	needle := append([]byte("\r\n"), delim...)
	window := make([]byte, 0, len(needle))

	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, cos.WrapErr(cos.KindParse, err, "multipart: part body truncated before boundary")
		}
		window = append(window, b)
		if len(window) > len(needle) {
			buf.WriteByte(window[0])
			window = window[1:]
		}
		if len(window) == len(needle) && bytes.Equal(window, needle) {
			return buf.Bytes(), nil
		}
	}
}
