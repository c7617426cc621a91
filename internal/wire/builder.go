package wire

import "encoding/binary"

// A Builder is a buffer that accumulates frames into a message body.
// The zero value is ready for use as an empty builder.
//
// Adapted from chirp/packet.Builder: the Vint30 length prefix and the
// Grow/Put primitives are unchanged, generalized here to build a sequence of
// wire frames instead of a single RPC payload.
type Builder struct {
	buf []byte
}

// Put appends the given bytes to b in order, with no length prefix.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// Uint32 appends v to b in big-endian order, with no length prefix.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Frame appends a length-prefixed frame to b. The length is encoded as a
// Vint30, so frames up to 63 bytes cost a single byte of overhead.
func (b *Builder) Frame(data []byte) {
	b.Grow(VLen(len(data)))
	b.vint30(uint32(len(data)))
	b.buf = append(b.buf, data...)
}

// FrameString appends a length-prefixed string frame to b.
func (b *Builder) FrameString(s string) { b.Frame([]byte(s)) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the returned slice; the caller must not retain or modify it
// unless b will no longer be used.
func (b *Builder) Bytes() []byte { return b.buf }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Grow resizes the internal buffer of b, if necessary, to ensure at least n
// more bytes can be appended without another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

func (b *Builder) vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }
