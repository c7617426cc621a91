// Package wire implements the byte-exact, length-prefixed multi-frame
// encoding used for every message exchanged between runtimes: publish,
// control, request, and response.
//
// Every message on the wire is an Envelope: an 8-byte fixed header (borrowed
// from the single-frame packet header used by chirp; its length field gives
// the byte length of the whole frame list) followed by an ordered
// list of length-prefixed frames. Frame lengths are encoded with Vint30,
// adapted from chirp/packet, so small frames (the common case: short topic
// names, node ids) cost one byte of overhead instead of four.
package wire
