// Monitor status-line emission: the fixed
// newline-prefixed line protocol a status monitor connection receives for
// call lifecycle events, plus AUDIOPACKET's binary-length-prefixed variant.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package vomp

import (
	"fmt"
	"io"
)

// EmitCallStatus writes a "\nCALLSTATUS:..." line describing c's current
// state pair, the monitor surface's general-purpose call event line.
func EmitCallStatus(w io.Writer, c *Call) {
	fmt.Fprintf(w, "\nCALLSTATUS:%08x:%s:%s\n", c.Local.Session, c.Local.State, c.Remote.State)
}

// EmitCallTo/EmitCallFrom/EmitRinging/EmitAnswered/EmitHangup mirror the
// monitor events the original triggers on specific transitions.
func EmitCallTo(w io.Writer, c *Call) {
	fmt.Fprintf(w, "\nCALLTO:%08x:%s\n", c.Local.Session, c.Remote.DID)
}
func EmitCallFrom(w io.Writer, c *Call) {
	fmt.Fprintf(w, "\nCALLFROM:%08x:%s\n", c.Local.Session, c.Remote.DID)
}
func EmitRinging(w io.Writer, c *Call)  { fmt.Fprintf(w, "\nRINGING:%08x\n", c.Local.Session) }
func EmitAnswered(w io.Writer, c *Call) { fmt.Fprintf(w, "\nANSWERED:%08x\n", c.Local.Session) }
func EmitHangup(w io.Writer, c *Call)   { fmt.Fprintf(w, "\nHANGUP:%08x\n", c.Local.Session) }
func EmitKeepalive(w io.Writer)         { fmt.Fprint(w, "\nKEEPALIVE:\n") }

// EmitCodecs reports the codec intersection bitmap negotiated for c.
func EmitCodecs(w io.Writer, c *Call, flags uint32) {
	fmt.Fprintf(w, "\nCODECS:%08x:%08x\n", c.Local.Session, flags)
}

// EmitAudioPacket writes one AUDIOPACKET line: a "\n*<bytes>:" binary
// length header followed by the raw wire frame.
func EmitAudioPacket(w io.Writer, frame []byte) {
	fmt.Fprintf(w, "\n*%d:", len(frame))
	w.Write(frame)
}
