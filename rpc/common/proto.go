package common

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Reserved Codes
// --------------------------------------------------------------------------

const (
	// ResponseCodeFailed is sent by the server if no handler is registered for a request
	// or the handler failed. The response body carries the error message.
	ResponseCodeFailed int16 = -1

	// ResponseCodeTimeout is never sent on the wire. The client completes a pending
	// request with it once the request timed out.
	ResponseCodeTimeout int16 = -2
)

// TimeoutMessage is the body of a synthetic timeout response
const TimeoutMessage = "request timeout"

// TickPrecision is the resolution of timestamps on the wire
const TickPrecision = 100 * time.Nanosecond

// sequence is the process-wide request sequence
var sequence atomic.Int64

// NextSequence returns the next process-wide unique request sequence
func NextSequence() int64 {
	return sequence.Add(1)
}

// Now returns the current UTC time truncated to the wire precision
func Now() time.Time {
	return time.Now().UTC().Truncate(TickPrecision)
}

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request is a single call from a client to a server
type Request struct {
	// Id is an opaque identifier, not used for correlation
	Id string
	// Sequence correlates the request with its response
	Sequence int64
	// Code selects the request handler on the server
	Code int16
	// Type is the invocation mode
	Type RequestType
	// Header is free-form metadata, echoed back in the response
	Header map[string]string
	// Body is the request payload
	Body []byte
	// CreatedTime is the time the request was created
	CreatedTime time.Time
}

// NewRequest creates a request with a fresh id and the next process-wide sequence
func NewRequest(code int16, body []byte, header map[string]string, requestType RequestType) *Request {
	return &Request{
		Id:          uuid.NewString(),
		Sequence:    NextSequence(),
		Code:        code,
		Type:        requestType,
		Header:      header,
		Body:        body,
		CreatedTime: Now(),
	}
}

// String returns a short representation for log output
func (r *Request) String() string {
	return fmt.Sprintf("[Id=%s,Type=%s,Code=%d,Sequence=%d,CreatedTime=%s,BodyLength=%d,Header=%s]",
		r.Id, r.Type, r.Code, r.Sequence, r.CreatedTime.Format(time.RFC3339Nano), len(r.Body), formatHeader(r.Header))
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Response is the reply to a request. It carries the request's sequence, code, type,
// creation time and header.
type Response struct {
	RequestSequence int64
	RequestCode     int16
	RequestType     RequestType
	RequestTime     time.Time
	RequestHeader   map[string]string

	ResponseCode   int16
	ResponseTime   time.Time
	ResponseHeader map[string]string
	ResponseBody   []byte
}

// NewResponse creates a response for the given request
func NewResponse(req *Request, code int16, body []byte) *Response {
	return &Response{
		RequestSequence: req.Sequence,
		RequestCode:     req.Code,
		RequestType:     req.Type,
		RequestTime:     req.CreatedTime,
		RequestHeader:   req.Header,
		ResponseCode:    code,
		ResponseTime:    Now(),
		ResponseBody:    body,
	}
}

// NewFailedResponse creates a response with ResponseCodeFailed and the message as body
func NewFailedResponse(req *Request, message string) *Response {
	return NewResponse(req, ResponseCodeFailed, []byte(message))
}

// NewTimeoutResponse creates the synthetic response of a timed out request
func NewTimeoutResponse(req *Request) *Response {
	return NewResponse(req, ResponseCodeTimeout, []byte(TimeoutMessage))
}

// Failed returns whether the response carries one of the reserved failure codes
func (r *Response) Failed() bool {
	return r.ResponseCode == ResponseCodeFailed || r.ResponseCode == ResponseCodeTimeout
}

// String returns a short representation for log output
func (r *Response) String() string {
	return fmt.Sprintf("[RequestType=%s,RequestCode=%d,RequestSequence=%d,RequestTime=%s,ResponseCode=%d,ResponseTime=%s,BodyLength=%d,RequestHeader=%s,ResponseHeader=%s]",
		r.RequestType, r.RequestCode, r.RequestSequence, r.RequestTime.Format(time.RFC3339Nano),
		r.ResponseCode, r.ResponseTime.Format(time.RFC3339Nano), len(r.ResponseBody),
		formatHeader(r.RequestHeader), formatHeader(r.ResponseHeader))
}

// --------------------------------------------------------------------------
// Server Message
// --------------------------------------------------------------------------

// ServerMessage is every frame sent from a server to a client. It either wraps an
// encoded Response or is a push message.
type ServerMessage struct {
	Id          string
	Type        ServerMessageType
	Code        int16
	Header      map[string]string
	Body        []byte
	CreatedTime time.Time
}

// NewPushMessage creates a push message with a fresh id
func NewPushMessage(code int16, body []byte, header map[string]string) *ServerMessage {
	return &ServerMessage{
		Id:          uuid.NewString(),
		Type:        ServerMessageTypePush,
		Code:        code,
		Header:      header,
		Body:        body,
		CreatedTime: Now(),
	}
}

// NewResponseEnvelope wraps an encoded response to the given request
func NewResponseEnvelope(req *Request, encodedResponse []byte) *ServerMessage {
	return &ServerMessage{
		Id:          req.Id,
		Type:        ServerMessageTypeResponse,
		Code:        req.Code,
		Body:        encodedResponse,
		CreatedTime: Now(),
	}
}

// String returns a short representation for log output
func (m *ServerMessage) String() string {
	return fmt.Sprintf("[Id=%s,Type=%s,Code=%d,CreatedTime=%s,BodyLength=%d,Header=%s]",
		m.Id, m.Type, m.Code, m.CreatedTime.Format(time.RFC3339Nano), len(m.Body), formatHeader(m.Header))
}

// --------------------------------------------------------------------------
// Request Type
// --------------------------------------------------------------------------

// RequestType is the invocation mode of a request
type RequestType int16

const (
	RequestTypeUnknown  RequestType = 0
	RequestTypeAsync    RequestType = 1
	RequestTypeOneway   RequestType = 2
	RequestTypeCallback RequestType = 3
)

// String returns the string representation of a RequestType.
func (t RequestType) String() string {
	switch t {
	case RequestTypeAsync:
		return "async"
	case RequestTypeOneway:
		return "oneway"
	case RequestTypeCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// ParseRequestType converts a string back to a RequestType
func ParseRequestType(s string) (RequestType, error) {
	switch strings.ToLower(s) {
	case "async":
		return RequestTypeAsync, nil
	case "oneway":
		return RequestTypeOneway, nil
	case "callback":
		return RequestTypeCallback, nil
	default:
		return RequestTypeUnknown, fmt.Errorf("unknown request type: %s", s)
	}
}

// MarshalJSON implements the json.Marshaller interface for RequestType.
// This allows RequestType to be serialized as a string in JSON.
func (t RequestType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for RequestType.
func (t *RequestType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRequestType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// --------------------------------------------------------------------------
// Server Message Type
// --------------------------------------------------------------------------

// ServerMessageType discriminates the frames a server sends
type ServerMessageType int16

const (
	ServerMessageTypeUnknown  ServerMessageType = 0
	ServerMessageTypeResponse ServerMessageType = 1
	ServerMessageTypePush     ServerMessageType = 2
)

// String returns the string representation of a ServerMessageType.
func (t ServerMessageType) String() string {
	switch t {
	case ServerMessageTypeResponse:
		return "response"
	case ServerMessageTypePush:
		return "push"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for ServerMessageType.
func (t ServerMessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// SortedKeys returns the keys of a header in ascending order
func SortedKeys(header map[string]string) []string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatHeader(header map[string]string) string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range SortedKeys(header) {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(header[k])
	}
	sb.WriteString("}")
	return sb.String()
}
