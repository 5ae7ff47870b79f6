package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/remoting/rpc/common"
)

// ErrClientShutdown completes every request still pending when the client shuts down
var ErrClientShutdown = errors.New("remoting client is shut down")

// TimeoutError is returned when no response arrived within the timeout
type TimeoutError struct {
	Request *common.Request
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait response timeout after %s, request: %s", e.Timeout, e.Request)
}

// RequestError is returned when a request could not be sent or completed
type RequestError struct {
	Request *common.Request
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %v, request: %s", e.Err, e.Request)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ServerUnavailableError is returned when the client has no live connection
type ServerUnavailableError struct {
	Endpoint string
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("server %s is unavailable", e.Endpoint)
}

// ResponseFutureAddFailedError is returned when a request with the same sequence is
// already pending
type ResponseFutureAddFailedError struct {
	Sequence int64
}

func (e *ResponseFutureAddFailedError) Error() string {
	return fmt.Sprintf("add response future failed, request sequence: %d", e.Sequence)
}
