// Package mdp implements the glue layer: demultiplexing
// MDP-addressed overlay frames by destination port to the content store
// sync protocol and the VoMP call engine, and framing outgoing MDP
// datagrams for the TX queue engine.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package mdp

import (
	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/subscriber"
)

// Port is a 16-bit MDP destination port.
type Port uint16

const (
	PortRhizomeDirect Port = 1 // rhizome sync-over-MDP control messages
	PortVoMP          Port = 2 // VoMP call signalling + audio
)

const portHeaderLen = 2

// Handler processes one inbound MDP datagram from src.
type Handler interface {
	HandleMDP(src *subscriber.Subscriber, payload []byte) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(src *subscriber.Subscriber, payload []byte) error

func (f HandlerFunc) HandleMDP(src *subscriber.Subscriber, payload []byte) error {
	return f(src, payload)
}

// Mux dispatches inbound MDP frame bodies to the handler registered for
// their destination port, and frames outbound payloads for a given port.
type Mux struct {
	handlers map[Port]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Port]Handler)}
}

// Register installs h as the handler for port, replacing any prior one.
func (m *Mux) Register(port Port, h Handler) { m.handlers[port] = h }

// Encode prefixes payload with its destination port, ready to hand to the
// TX queue engine as an overlay.FrameMDP frame body.
func Encode(port Port, payload []byte) []byte {
	out := make([]byte, portHeaderLen+len(payload))
	out[0] = byte(port >> 8)
	out[1] = byte(port)
	copy(out[portHeaderLen:], payload)
	return out
}

// Dispatch decodes body's port prefix and routes the remainder to the
// registered handler. An unregistered port is a protocol violation from
// this node's perspective but must not close the owning interface: I/O
// errors close a resource, protocol violations from a peer do not.
func (m *Mux) Dispatch(src *subscriber.Subscriber, body []byte) error {
	if len(body) < portHeaderLen {
		return cos.NewErr(cos.KindProtocol, "mdp: frame shorter than port header")
	}
	port := Port(uint16(body[0])<<8 | uint16(body[1]))
	h, ok := m.handlers[port]
	if !ok {
		return cos.NewErr(cos.KindProtocol, "mdp: no handler registered for port %d", port)
	}
	return h.HandleMDP(src, body[portHeaderLen:])
}
