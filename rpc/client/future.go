package client

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/remoting/rpc/common"
)

// ResponseFuture is the single-assignment result of an async request. It is completed
// exactly once, by the arriving response, by the timeout sweep or on shutdown.
type ResponseFuture struct {
	Request   *common.Request
	BeginTime time.Time
	Timeout   time.Duration

	once     sync.Once
	done     chan struct{}
	response *common.Response
	err      error
}

func newResponseFuture(req *common.Request, timeout time.Duration) *ResponseFuture {
	return &ResponseFuture{
		Request:   req,
		BeginTime: time.Now(),
		Timeout:   timeout,
		done:      make(chan struct{}),
	}
}

// IsTimeout returns whether the deadline (BeginTime + Timeout) passed at now
func (f *ResponseFuture) IsTimeout(now time.Time) bool {
	return now.Sub(f.BeginTime) > f.Timeout
}

// SetResponse completes the future with a response. Returns false if it was already completed.
func (f *ResponseFuture) SetResponse(resp *common.Response) bool {
	return f.complete(resp, nil)
}

// SetError completes the future with an error. Returns false if it was already completed.
func (f *ResponseFuture) SetError(err error) bool {
	return f.complete(nil, err)
}

// Done is closed once the future is completed
func (f *ResponseFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is completed or ctx is done
func (f *ResponseFuture) Wait(ctx context.Context) (*common.Response, error) {
	select {
	case <-f.done:
		return f.response, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *ResponseFuture) complete(resp *common.Response, err error) bool {
	completed := false
	f.once.Do(func() {
		f.response = resp
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}
