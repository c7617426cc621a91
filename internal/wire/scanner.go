package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A Scanner reads length-prefixed frames from the body of a message.
// Methods report io.EOF when no further input is available, and
// io.ErrUnexpectedEOF when a value is present but truncated — the caller must
// treat either as "stop parsing and discard the whole message" per the
// wire codec's partial-delivery rule; no synthetic frame is substituted.
//
// Adapted from chirp/packet.Scanner.
type Scanner struct {
	rest []byte
}

// NewScanner constructs a Scanner over the body of a message.
// The scanner retains slices into input; the caller must not modify input
// contents while the scanner is in use.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

// Len reports the number of remaining unconsumed bytes.
func (s *Scanner) Len() int { return len(s.rest) }

// Frame scans the next length-prefixed frame from the head of the input.
// The returned slice aliases the scanner's input and must not be retained
// past the lifetime of the underlying message buffer without copying.
func (s *Scanner) Frame() ([]byte, error) {
	n, err := s.vint30()
	if err != nil {
		return nil, err
	}
	if len(s.rest) < n {
		return nil, fmt.Errorf("frame truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n]
	s.rest = s.rest[n:]
	return out, nil
}

// FrameString scans the next length-prefixed frame and returns it as a
// freshly allocated string.
func (s *Scanner) FrameString() (string, error) {
	f, err := s.Frame()
	if err != nil {
		return "", err
	}
	return string(f), nil
}

// Byte scans a single unprefixed byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// Uint32 parses a big-endian uint32 value from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, fmt.Errorf("value truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint32(s.rest[:4])
	s.rest = s.rest[4:]
	return out, nil
}

func (s *Scanner) vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	nb := int(s.rest[0]%4) + 1
	if len(s.rest) < nb {
		return 0, io.ErrUnexpectedEOF
	}
	var w uint32
	for i := nb - 1; i >= 0; i-- {
		w = (w * 256) + uint32(s.rest[i])
	}
	s.rest = s.rest[nb:]
	return int(w >> 2), nil
}
