// HTTP client side of the sync/direct protocol: drives repeated
// enquiry rounds against one peer until its cursor is exhausted, then
// executes the resulting push/pull actions.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizomesync

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/rhizome"
)

// maxConcurrentFetches bounds simultaneous manifest/blob fetches per sync
// round.
const maxConcurrentFetches = 4

// Client drives sync/direct rounds against a single peer address.
type Client struct {
	Addr  string // "host:port"
	Store *rhizome.Store

	hc *fasthttp.Client
}

func NewClient(addr string, store *rhizome.Store) *Client {
	return &Client{Addr: addr, Store: store, hc: &fasthttp.Client{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Sync repeats enquiry rounds until the cursor's range is exhausted,
// executing every push/pull action each round produces.
func (c *Client) Sync(deadline time.Time) error {
	cursor := rhizome.Cursor{SizeLow: 0, SizeHigh: ^uint32(0), LimitSize: ^uint32(0)}
	for i := range cursor.BIDHigh {
		cursor.BIDHigh[i] = 0xff
	}
	for !cursor.Done() {
		if time.Now().After(deadline) {
			return cos.NewErr(cos.KindTimeout, "rhizomesync: sync with %s did not converge before deadline", c.Addr)
		}
		actions, newSizeHigh, newBIDHigh, err := c.enquireOnce(cursor)
		if err != nil {
			return err
		}
		if err := c.execute(actions); err != nil {
			nlog.Warningf("rhizomesync: round against %s had action failures: %v", c.Addr, err)
		}
		cursor.Advance(newSizeHigh, newBIDHigh)
	}
	return nil
}

func (c *Client) enquireOnce(cursor rhizome.Cursor) (actions []Action, newSizeHigh uint32, newBIDHigh [6]byte, err error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormField("data")
	if err != nil {
		return nil, 0, newBIDHigh, cos.WrapErr(cos.KindIO, err, "rhizomesync: building enquiry body")
	}
	pickled := cursor.Pickle()
	part.Write(pickled[:])
	for _, bar := range c.Store.AllBARs() {
		part.Write(bar.Marshal())
	}
	if err := w.Close(); err != nil {
		return nil, 0, newBIDHigh, cos.WrapErr(cos.KindIO, err, "rhizomesync: closing enquiry body")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fmt.Sprintf("http://%s/rhizome/enquiry", c.Addr))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(w.FormDataContentType())
	req.SetBody(body.Bytes())

	if err := c.hc.Do(req, resp); err != nil {
		return nil, 0, newBIDHigh, cos.WrapErr(cos.KindUnreachable, err, "rhizomesync: enquiry to %s", c.Addr)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, 0, newBIDHigh, cos.NewErr(cos.KindProtocol, "rhizomesync: enquiry to %s returned %d", c.Addr, resp.StatusCode())
	}
	raw := resp.Body()
	if len(raw) < rhizome.WireCursorSize {
		return nil, 0, newBIDHigh, cos.NewErr(cos.KindParse, "rhizomesync: enquiry response shorter than cursor")
	}
	newSizeHigh, newBIDHigh, err = rhizome.Unpickle(raw[:rhizome.WireCursorSize])
	if err != nil {
		return nil, 0, newBIDHigh, err
	}
	body2 := raw[rhizome.WireCursorSize:]
	for i := 0; i+9 <= len(body2); i += 9 {
		var a Action
		a.Op = Op(body2[i])
		copy(a.BIDPrefix[:], body2[i+1:i+9])
		actions = append(actions, a)
	}
	return actions, newSizeHigh, newBIDHigh, nil
}

// execute runs every action's transfer concurrently, bounded by
// maxConcurrentFetches.
func (c *Client) execute(actions []Action) error {
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentFetches)
	for _, a := range actions {
		a := a
		g.Go(func() error {
			switch a.Op {
			case OpPull:
				return c.pull(a.BIDPrefix)
			case OpPush:
				return c.push(a.BIDPrefix)
			default:
				return cos.NewErr(cos.KindProtocol, "rhizomesync: unknown action op %d", a.Op)
			}
		})
	}
	return g.Wait()
}

// pull fetches a manifest by its BID prefix, then its payload, and imports
// both through the local store's Add flow.
func (c *Client) pull(prefix [8]byte) error {
	hexPrefix := hexString(prefix[:])
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fmt.Sprintf("http://%s/rhizome/manifestbybar/%s", c.Addr, hexPrefix))
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.hc.Do(req, resp); err != nil {
		return cos.WrapErr(cos.KindUnreachable, err, "rhizomesync: fetching manifest %s from %s", hexPrefix, c.Addr)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return cos.NewErr(cos.KindNotFound, "rhizomesync: peer %s has no manifest for %s", c.Addr, hexPrefix)
	}
	manifestBytes := append([]byte(nil), resp.Body()...)
	m, err := rhizome.Parse(manifestBytes)
	if err != nil {
		return err
	}
	filehash, _ := m.Get("filehash")
	var payload []byte
	if filehash != "" {
		payload, err = c.fetchPayload(filehash)
		if err != nil {
			return err
		}
	}
	_, err = c.Store.Add(m, payload)
	if err != nil && !cos.IsAlreadyPresent(err) {
		return err
	}
	return nil
}

// fetchPayload retrieves a bundle's blob by its hex SHA-512.
func (c *Client) fetchPayload(filehash string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fmt.Sprintf("http://%s/rhizome/payloadbyhash/%s", c.Addr, filehash))
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.hc.Do(req, resp); err != nil {
		return nil, cos.WrapErr(cos.KindUnreachable, err, "rhizomesync: fetching payload %s from %s", filehash, c.Addr)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, cos.NewErr(cos.KindNotFound, "rhizomesync: peer %s has no payload for %s", c.Addr, filehash)
	}
	return append([]byte(nil), resp.Body()...), nil
}

// push sends a locally-stored bundle to the peer via /rhizome/import.
func (c *Client) push(prefix [8]byte) error {
	hexPrefix := hexString(prefix[:])
	var manifestBytes, payload []byte
	for _, id := range allIDsWithPrefix(c.Store, hexPrefix) {
		m, _, ok := c.Store.Lookup(id)
		if !ok {
			continue
		}
		manifestBytes = m
		break
	}
	if manifestBytes == nil {
		return cos.NewErr(cos.KindNotFound, "rhizomesync: no local bundle for %s", hexPrefix)
	}
	parsed, err := rhizome.Parse(manifestBytes)
	if err != nil {
		return err
	}
	if hash, _ := parsed.Get("filehash"); hash != "" {
		payload, _ = c.Store.Payload(hash)
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	mp, _ := w.CreateFormField("manifest")
	mp.Write(manifestBytes)
	if payload != nil {
		dp, _ := w.CreateFormField("data")
		dp.Write(payload)
	}
	w.Close()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fmt.Sprintf("http://%s/rhizome/import", c.Addr))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(w.FormDataContentType())
	req.SetBody(body.Bytes())
	if err := c.hc.Do(req, resp); err != nil {
		return cos.WrapErr(cos.KindUnreachable, err, "rhizomesync: pushing to %s", c.Addr)
	}
	if resp.StatusCode() != fasthttp.StatusCreated && resp.StatusCode() != fasthttp.StatusNoContent {
		return cos.NewErr(cos.KindProtocol, "rhizomesync: push to %s rejected with %d", c.Addr, resp.StatusCode())
	}
	return nil
}
