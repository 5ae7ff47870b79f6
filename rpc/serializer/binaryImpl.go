package serializer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/remoting/rpc/common"
)

// NewBinarySerializer creates a new serializer using the little-endian remoting wire format
func NewBinarySerializer() IRemotingSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRemotingSerializer
type binarySerializerImpl struct {
}

const (
	sizeInt16 = 2
	sizeInt32 = 4
	sizeInt64 = 8

	// ticksUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01 (UTC)
	ticksUnixEpoch int64 = 621355968000000000
	ticksPerSecond int64 = 10_000_000
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRemotingSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) EncodeRequest(req *common.Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	size := sizeString(req.Id) + sizeInt64 + sizeInt16 + sizeInt16 + sizeInt64 +
		sizeInt32 + sizeHeader(req.Header) + len(req.Body)

	w := writer{buf: make([]byte, size)}
	w.putString(req.Id)
	w.putInt64(req.Sequence)
	w.putInt16(req.Code)
	w.putInt16(int16(req.Type))
	w.putInt64(ToTicks(req.CreatedTime))
	w.putHeader(req.Header)
	w.putBytes(req.Body)

	return w.buf, nil
}

func (b binarySerializerImpl) DecodeRequest(data []byte) (*common.Request, error) {
	r := reader{buf: data}
	req := &common.Request{
		Id:          r.readString(),
		Sequence:    r.readInt64(),
		Code:        r.readInt16(),
		Type:        common.RequestType(r.readInt16()),
		CreatedTime: FromTicks(r.readInt64()),
		Header:      r.readHeader(),
		Body:        r.readRest(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", r.err)
	}
	return req, nil
}

func (b binarySerializerImpl) EncodeResponse(resp *common.Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}

	size := sizeInt64 + sizeInt16 + sizeInt16 + sizeInt64 + sizeInt32 + sizeHeader(resp.RequestHeader) +
		sizeInt16 + sizeInt64 + sizeInt32 + sizeHeader(resp.ResponseHeader) + len(resp.ResponseBody)

	w := writer{buf: make([]byte, size)}
	w.putInt64(resp.RequestSequence)
	w.putInt16(resp.RequestCode)
	w.putInt16(int16(resp.RequestType))
	w.putInt64(ToTicks(resp.RequestTime))
	w.putHeader(resp.RequestHeader)
	w.putInt16(resp.ResponseCode)
	w.putInt64(ToTicks(resp.ResponseTime))
	w.putHeader(resp.ResponseHeader)
	w.putBytes(resp.ResponseBody)

	return w.buf, nil
}

func (b binarySerializerImpl) DecodeResponse(data []byte) (*common.Response, error) {
	r := reader{buf: data}
	resp := &common.Response{
		RequestSequence: r.readInt64(),
		RequestCode:     r.readInt16(),
		RequestType:     common.RequestType(r.readInt16()),
		RequestTime:     FromTicks(r.readInt64()),
		RequestHeader:   r.readHeader(),
		ResponseCode:    r.readInt16(),
		ResponseTime:    FromTicks(r.readInt64()),
		ResponseHeader:  r.readHeader(),
		ResponseBody:    r.readRest(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", r.err)
	}
	return resp, nil
}

func (b binarySerializerImpl) EncodeServerMessage(msg *common.ServerMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("server message is nil")
	}

	size := sizeString(msg.Id) + sizeInt16 + sizeInt16 + sizeInt64 + sizeInt32 + sizeHeader(msg.Header) + len(msg.Body)

	w := writer{buf: make([]byte, size)}
	w.putString(msg.Id)
	w.putInt16(int16(msg.Type))
	w.putInt16(msg.Code)
	w.putInt64(ToTicks(msg.CreatedTime))
	w.putHeader(msg.Header)
	w.putBytes(msg.Body)

	return w.buf, nil
}

func (b binarySerializerImpl) DecodeServerMessage(data []byte) (*common.ServerMessage, error) {
	r := reader{buf: data}
	msg := &common.ServerMessage{
		Id:          r.readString(),
		Type:        common.ServerMessageType(r.readInt16()),
		Code:        r.readInt16(),
		CreatedTime: FromTicks(r.readInt64()),
		Header:      r.readHeader(),
		Body:        r.readRest(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode server message: %w", r.err)
	}
	return msg, nil
}

// --------------------------------------------------------------------------
// Timestamps
// --------------------------------------------------------------------------

// ToTicks converts a time to 100ns ticks since 0001-01-01 UTC. The zero time is 0.
func ToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + ticksUnixEpoch
}

// FromTicks converts 100ns ticks since 0001-01-01 UTC to a UTC time. 0 is the zero time.
func FromTicks(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	d := ticks - ticksUnixEpoch
	return time.Unix(d/ticksPerSecond, (d%ticksPerSecond)*100).UTC()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func sizeString(s string) int {
	return sizeInt32 + len(s)
}

// sizeHeader returns the size of the header block (without its length prefix)
func sizeHeader(header map[string]string) int {
	size := sizeInt32
	for k, v := range header {
		size += sizeString(k) + sizeString(v)
	}
	return size
}

// writer writes into a pre-sized buffer
type writer struct {
	buf []byte
	pos int
}

func (w *writer) putInt16(v int16) {
	binary.LittleEndian.PutUint16(w.buf[w.pos:], uint16(v))
	w.pos += sizeInt16
}

func (w *writer) putInt32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[w.pos:], uint32(v))
	w.pos += sizeInt32
}

func (w *writer) putInt64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[w.pos:], uint64(v))
	w.pos += sizeInt64
}

func (w *writer) putBytes(b []byte) {
	w.pos += copy(w.buf[w.pos:], b)
}

func (w *writer) putString(s string) {
	w.putInt32(int32(len(s)))
	w.pos += copy(w.buf[w.pos:], s)
}

// putHeader writes the header length, the entry count and all entries sorted by key
func (w *writer) putHeader(header map[string]string) {
	w.putInt32(int32(sizeHeader(header)))
	w.putInt32(int32(len(header)))
	for _, k := range common.SortedKeys(header) {
		w.putString(k)
		w.putString(header[k])
	}
}

// reader reads from a payload and remembers the first error. Once an error occurred
// all further reads return zero values.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.pos {
		r.err = fmt.Errorf("data too short: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) readInt16() int16 {
	if b := r.take(sizeInt16); b != nil {
		return int16(binary.LittleEndian.Uint16(b))
	}
	return 0
}

func (r *reader) readInt32() int32 {
	if b := r.take(sizeInt32); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *reader) readInt64() int64 {
	if b := r.take(sizeInt64); b != nil {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *reader) readString() string {
	n := r.readInt32()
	return string(r.take(int(n)))
}

// readHeader reads the header length prefix and the header block
func (r *reader) readHeader() map[string]string {
	size := r.readInt32()
	block := r.take(int(size))
	if r.err != nil {
		return nil
	}

	hr := reader{buf: block}
	count := hr.readInt32()
	if count < 0 || int(count) > len(block)/(2*sizeInt32) {
		r.err = fmt.Errorf("invalid header entry count %d", count)
		return nil
	}

	header := make(map[string]string, count)
	for i := int32(0); i < count && hr.err == nil; i++ {
		k := hr.readString()
		v := hr.readString()
		header[k] = v
	}
	if hr.err != nil {
		r.err = fmt.Errorf("invalid header: %w", hr.err)
		return nil
	}
	return header
}

// readRest returns a copy of all remaining bytes
func (r *reader) readRest() []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, len(r.buf)-r.pos)
	copy(b, r.buf[r.pos:])
	r.pos = len(r.buf)
	return b
}
