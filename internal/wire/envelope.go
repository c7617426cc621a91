package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies the structure of an Envelope's frame list.
//
// Mirrors the role chirp.PacketType plays for chirp.Packet: a one-byte tag
// in the fixed header that tells the receiver how to interpret the frames
// that follow.
type Kind byte

const (
	KindPublish    Kind = 1 // 4 frames: topic, data-endpoint, payload, msg-type
	KindControl    Kind = 2 // 5 frames: topic, process-id, node-id, msg-type, event-code
	KindRequest    Kind = 3 // 8 frames (see Request)
	KindResponse   Kind = 4 // 6 frames (see Response)
	KindCredential Kind = 5 // 2 frames: username, password
)

func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "PUBLISH"
	case KindControl:
		return "CONTROL"
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindCredential:
		return "CREDENTIAL"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// protocolVersion is the single byte identifying the wire protocol revision.
const protocolVersion = 0

// An Envelope is one framed message: a fixed 8-byte header naming the
// protocol version, message kind, and total body length, followed by the
// frame list itself (produced by a Builder, consumed by a Scanner).
//
// The header shape is ported from chirp.Packet.WriteTo/ReadFrom (magic bytes
// + version + type + big-endian uint32 length), generalized to carry however
// many length-prefixed frames a Kind requires instead of one opaque payload.
type Envelope struct {
	Kind Kind
	Body []byte
}

// WriteTo writes e to w in binary form. It satisfies io.WriterTo.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	var hdr [8]byte
	hdr[0], hdr[1] = 'M', 'T'
	hdr[2] = protocolVersion
	hdr[3] = byte(e.Kind)
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(e.Body)))
	nw, err := w.Write(hdr[:])
	if err == nil && len(e.Body) != 0 {
		var np int
		np, err = w.Write(e.Body)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads an Envelope from r in binary form. It satisfies
// io.ReaderFrom.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
	var hdr [8]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return int64(nr), fmt.Errorf("short envelope header: %w", err)
	}
	if string(hdr[:2]) != "MT" {
		return int64(nr), fmt.Errorf("invalid envelope magic %q", hdr[:2])
	}
	if hdr[2] != protocolVersion {
		return int64(nr), fmt.Errorf("unsupported protocol version %d", hdr[2])
	}
	e.Kind = Kind(hdr[3])

	if n := binary.BigEndian.Uint32(hdr[4:]); n > 0 {
		e.Body = make([]byte, int(n))
		var np int
		np, err = io.ReadFull(r, e.Body)
		nr += np
		if err != nil {
			err = fmt.Errorf("short envelope body: %w", err)
		}
	} else {
		e.Body = nil
	}
	return int64(nr), err
}
