// Package resp implements an incremental parser/framer and writer for the
// RESP wire format, plus routing-key extraction.
package resp

import "errors"

// Kind identifies one of the five RESP types.
type Kind byte

const (
	SimpleString Kind = '+'
	Error        Kind = '-'
	Integer      Kind = ':'
	BulkString   Kind = '$'
	Array        Kind = '*'
)

// ErrProtocol is returned by Reader.Next when the input cannot be parsed as
// RESP; the owning connection must be closed.
var ErrProtocol = errors.New("invalid redis protocol")

// ErrNeedMore signals the frame is incomplete; the caller should read more
// bytes and retry.
var ErrNeedMore = errors.New("need more bytes")

// Frame is one complete top-level RESP value.
type Frame struct {
	Kind Kind
	// Raw is the exact wire bytes of the frame, including the trailing
	// CRLF(s), ready to be forwarded verbatim to a backend or client.
	Raw []byte
	// Array holds the parsed bulk-string elements when Kind == Array;
	// nil elements represent RESP null bulk strings ($-1).
	Array [][]byte
}

// IsNullArray reports whether this is a `*-1\r\n` (null array) frame.
func (f Frame) IsNullArray() bool { return f.Kind == Array && f.Array == nil && len(f.Raw) > 0 }

// Clone returns a copy of f whose Raw and Array byte slices own their
// storage instead of aliasing the Reader's internal buffer. Reader.Feed
// and Reader.compact keep appending to and shifting that buffer on the
// reader's goroutine, so any Frame handed to another goroutine (a reactor
// or connection event, queued across a channel) must be cloned first or
// the bytes can change, or be overwritten, before the receiver uses them.
func (f Frame) Clone() Frame {
	if f.Raw == nil && f.Array == nil {
		return f
	}
	raw := append([]byte(nil), f.Raw...)
	var array [][]byte
	if f.Array != nil {
		array = make([][]byte, len(f.Array))
		for i, elem := range f.Array {
			if elem != nil {
				array[i] = append([]byte(nil), elem...)
			}
		}
	}
	return Frame{Kind: f.Kind, Raw: raw, Array: array}
}
