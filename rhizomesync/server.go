// HTTP server side of the sync/direct protocol: the
// /rhizome/enquiry, /rhizome/import, /rhizome/manifestbybar/<hex>, and
// loopback-only submitBareFileURI endpoints.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/rhizome"
	"github.com/serval-mesh/meshd/rhizome/sign"
)

// Server answers the sync/direct HTTP endpoints against a rhizome.Store.
type Server struct {
	Store *rhizome.Store

	// AddFile config: bare-file upload, loopback-restricted.
	AddFileURI              string
	AddFileAllowedAddress   string // default 127.0.0.1
	AddFileManifestTemplate string
	AddFileAuthor           func() (sign.KeyPair, bool)
	AddFileBundleKey        sign.KeyPair // when set, updates this existing bundle instead of binding a new id
}

func NewServer(store *rhizome.Store) *Server {
	return &Server{Store: store, AddFileAllowedAddress: "127.0.0.1"}
}

// Handler returns the fasthttp request handler for every sync/direct
// route.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/" && ctx.IsGet():
			s.handleStatus(ctx)
		case path == "/favicon.ico" && ctx.IsGet():
			ctx.SetStatusCode(fasthttp.StatusOK)
		case path == "/rhizome/enquiry" && ctx.IsPost():
			s.handleEnquiry(ctx)
		case path == "/rhizome/import" && ctx.IsPost():
			s.handleImport(ctx)
		case strings.HasPrefix(path, "/rhizome/manifestbybar/") && ctx.IsGet():
			s.handleManifestByBAR(ctx, strings.TrimPrefix(path, "/rhizome/manifestbybar/"))
		case strings.HasPrefix(path, "/rhizome/payloadbyhash/") && ctx.IsGet():
			s.handlePayloadByHash(ctx, strings.TrimPrefix(path, "/rhizome/payloadbyhash/"))
		case s.AddFileURI != "" && path == s.AddFileURI && ctx.IsPost():
			s.handleSubmitBareFile(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"rhizome_used":` + strconv.FormatInt(s.Store.Used(), 10) + `}`)
}

// handleEnquiry answers one round of the set-reconciliation protocol: a
// multipart "data" part carrying a 10-byte cursor followed by the local
// BAR set, 17 bytes each; the response is the updated cursor followed by
// at most 64KiB of (op, bid_prefix) action records.
func (s *Server) handleEnquiry(ctx *fasthttp.RequestCtx) {
	parts, err := ScanMultipart(newReader(ctx.PostBody()), boundaryOf(ctx))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	var data []byte
	for _, p := range parts {
		if p.Name == "data" {
			data = p.Data
		}
	}
	if len(data) < rhizome.WireCursorSize {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	sizeHigh, bidHigh, err := rhizome.Unpickle(data[:rhizome.WireCursorSize])
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	peerBARs, err := parsePeerBARs(data[rhizome.WireCursorSize:])
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	cursor := rhizome.Cursor{SizeHigh: sizeHigh, BIDHigh: bidHigh, SizeLow: 0, LimitSize: ^uint32(0)}
	actions, newSizeHigh, newBIDHigh := ComputeActions(s.Store.AllBARs(), peerBARs, cursor)

	resp := make([]byte, 0, rhizome.WireCursorSize+len(actions)*9)
	respCursor := rhizome.Cursor{SizeHigh: newSizeHigh, BIDHigh: newBIDHigh}
	pickled := respCursor.Pickle()
	resp = append(resp, pickled[:]...)
	for _, a := range actions {
		resp = append(resp, byte(a.Op))
		resp = append(resp, a.BIDPrefix[:]...)
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(resp)
}

// handleImport answers one bundle transfer: multipart "manifest" and
// "data" parts, validated and written through the rhizome Add flow.
func (s *Server) handleImport(ctx *fasthttp.RequestCtx) {
	txn := cos.GenTxnID()
	parts, err := ScanMultipart(newReader(ctx.PostBody()), boundaryOf(ctx))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	var manifestBytes, payload []byte
	for _, p := range parts {
		switch p.Name {
		case "manifest":
			manifestBytes = p.Data
		case "data":
			payload = p.Data
		}
	}
	if manifestBytes == nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	m, err := rhizome.Parse(manifestBytes)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	if _, err := s.Store.Add(m, payload); err != nil {
		switch {
		case cos.IsAlreadyPresent(err):
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		case cos.IsValidation(err), cos.IsCrypto(err):
			ctx.SetStatusCode(fasthttp.StatusForbidden)
		case cos.IsStale(err):
			ctx.SetStatusCode(fasthttp.StatusForbidden)
		case cos.IsIO(err):
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		default:
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
		nlog.Warningf("rhizomesync: import %s rejected: %v", txn, err)
		return
	}
	nlog.Infof("rhizomesync: import %s accepted (%d payload bytes)", txn, len(payload))
	ctx.SetStatusCode(fasthttp.StatusCreated)
}

func (s *Server) handleManifestByBAR(ctx *fasthttp.RequestCtx, hexPrefix string) {
	for _, id := range allIDsWithPrefix(s.Store, hexPrefix) {
		manifest, _, ok := s.Store.Lookup(id)
		if !ok {
			continue
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(manifest)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

// handlePayloadByHash serves a stored blob by its hex SHA-512, the fetch a
// peer performs between manifestbybar and import on the pull side of a
// sync round.
func (s *Server) handlePayloadByHash(ctx *fasthttp.RequestCtx, hexHash string) {
	payload, ok := s.Store.Payload(strings.ToLower(hexHash))
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(payload)
}

// handleSubmitBareFile implements submitBareFileURI: server-side
// bundle creation from an uploaded "data" part, accepted only from
// AddFileAllowedAddress.
func (s *Server) handleSubmitBareFile(ctx *fasthttp.RequestCtx) {
	if remoteHost(ctx) != s.AddFileAllowedAddress {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}
	parts, err := ScanMultipart(newReader(ctx.PostBody()), boundaryOf(ctx))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	var payload []byte
	filename := "upload"
	for _, p := range parts {
		if p.Name == "data" {
			payload = p.Data
			if p.Filename != "" {
				filename = p.Filename
			}
		}
	}
	kp := s.AddFileBundleKey
	if kp.Private == nil {
		var ok bool
		if kp, ok = s.AddFileAuthor(); !ok {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			return
		}
	}
	m := buildAddFileManifest(kp, s.AddFileManifestTemplate, payload, filename, time.Now())
	if _, err := s.Store.Add(m, payload); err != nil {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
}

func remoteHost(ctx *fasthttp.RequestCtx) string {
	addr := ctx.RemoteAddr().String()
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func boundaryOf(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Request.Header.MultipartFormBoundary())
}

func allIDsWithPrefix(store *rhizome.Store, hexPrefix string) []string {
	want := strings.ToUpper(hexPrefix)
	var out []string
	for _, id := range store.AllIDs() {
		if strings.HasPrefix(id, want) {
			out = append(out, id)
		}
	}
	return out
}
