// Package framing splits a byte stream into length-prefixed messages and frames
// outgoing payloads. A frame is a 4-byte little-endian length followed by exactly
// that many payload bytes. The length must be positive.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the length prefix
const HeaderSize = 4

var (
	// ErrInvalidFrameLength is returned when a length prefix is not positive. The stream
	// can't be resynchronized after it, the connection has to be closed.
	ErrInvalidFrameLength = errors.New("invalid frame length")

	// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum
	ErrFrameTooLarge = errors.New("frame too large")
)

// LengthPrefixFramer is a stateful incremental parser. Chunks have to be fed in stream
// order and the framer must not be used concurrently.
type LengthPrefixFramer struct {
	maxFrameLength int
	handler        func(payload []byte)

	header     [HeaderSize]byte
	headerRead int

	payload     []byte
	payloadRead int
}

// NewLengthPrefixFramer creates a framer. A maxFrameLength <= 0 disables the size check.
func NewLengthPrefixFramer(maxFrameLength int) *LengthPrefixFramer {
	return &LengthPrefixFramer{maxFrameLength: maxFrameLength}
}

// RegisterMessageArrivedCallback sets the function invoked once per complete message.
// The payload is owned by the callback.
func (f *LengthPrefixFramer) RegisterMessageArrivedCallback(handler func(payload []byte)) {
	f.handler = handler
}

// UnframeData feeds the next chunk of the stream. Complete messages are passed to the
// callback in order before UnframeData returns. On error the parse state is reset.
func (f *LengthPrefixFramer) UnframeData(data []byte) error {
	for len(data) > 0 {
		// length prefix
		if f.headerRead < HeaderSize {
			n := copy(f.header[f.headerRead:], data)
			f.headerRead += n
			data = data[n:]

			if f.headerRead < HeaderSize {
				return nil
			}

			length := int32(binary.LittleEndian.Uint32(f.header[:]))
			if length <= 0 {
				f.Reset()
				return fmt.Errorf("%w: %d", ErrInvalidFrameLength, length)
			}
			if f.maxFrameLength > 0 && int(length) > f.maxFrameLength {
				f.Reset()
				return fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, length, f.maxFrameLength)
			}
			f.payload = make([]byte, length)
			f.payloadRead = 0
		}

		// payload, bounded by min(remaining chunk, remaining payload)
		n := copy(f.payload[f.payloadRead:], data)
		f.payloadRead += n
		data = data[n:]

		if f.payloadRead == len(f.payload) {
			payload := f.payload
			f.Reset()
			if f.handler != nil {
				f.handler(payload)
			}
		}
	}
	return nil
}

// FrameData returns the length prefix and the unchanged payload, ready for a vectored write
func (f *LengthPrefixFramer) FrameData(payload []byte) [][]byte {
	return FrameData(payload)
}

// Reset drops any partially parsed message
func (f *LengthPrefixFramer) Reset() {
	f.headerRead = 0
	f.payload = nil
	f.payloadRead = 0
}

// FrameData returns the length prefix and the unchanged payload
func FrameData(payload []byte) [][]byte {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	return [][]byte{header, payload}
}

// AppendFrame appends the framed payload to dst
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
