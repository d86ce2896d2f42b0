// Audio packetization: fixed-duration chunking per codec,
// with audio_clock stamping so receivers can reorder/drop duplicates.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package vomp

// Packetizer splits a stream of raw audio samples into fixed-duration
// chunks for one codec, advancing AudioClockMS by each chunk's duration.
type Packetizer struct {
	Codec         Codec
	BytesPerChunk int
	clockMS       uint32
}

// NewPacketizer returns a packetizer for codec where each chunk is
// bytesPerChunk raw sample bytes (codec-dependent; the caller already
// knows its own encoder's frame size).
func NewPacketizer(codec Codec, bytesPerChunk int) *Packetizer {
	return &Packetizer{Codec: codec, BytesPerChunk: bytesPerChunk}
}

// Chunk carries one packetized slice of outgoing audio plus the
// audio_clock value (ms since call start) the wire frame must stamp.
type Chunk struct {
	AudioClock uint32
	Samples    []byte
}

// Next splits samples into chunks of BytesPerChunk bytes (the final chunk
// may be shorter), stamping each with the running audio clock.
func (p *Packetizer) Next(samples []byte) []Chunk {
	var out []Chunk
	for len(samples) > 0 {
		n := p.BytesPerChunk
		if n > len(samples) {
			n = len(samples)
		}
		out = append(out, Chunk{AudioClock: p.clockMS, Samples: samples[:n]})
		samples = samples[n:]
		p.clockMS += uint32(p.Codec.FrameDuration().Milliseconds())
	}
	return out
}

// ToWireFrames renders chunks into in-call WireFrames ready for
// transmission, each carrying redundant send copies to tolerate link
// drops.
func ToWireFrames(c *Call, chunks []Chunk, codec Codec) []*WireFrame {
	out := make([]*WireFrame, 0, len(chunks))
	for _, chunk := range chunks {
		c.Local.Sequence++
		out = append(out, &WireFrame{
			RemoteStateAsSeenBySender:  c.Remote.State,
			LocalStateAsSeenBySender:   c.Local.State,
			RecipientSeqAsSeenBySender: c.Remote.Sequence,
			SenderSeq:                  c.Local.Sequence,
			ElapsedMS:                  uint16(chunk.AudioClock),
			RecipientSession:           0, // filled by caller from Remote.Session once known
			SenderSession:              c.Local.Session,
			HasAudio:                   true,
			AudioClock:                 chunk.AudioClock,
			AudioCodec:                 codec,
			Samples:                    chunk.Samples,
		})
	}
	return out
}
