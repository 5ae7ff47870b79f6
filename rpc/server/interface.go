package server

import (
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/transport"
)

// IRequestHandlerContext is passed to every request handler invocation
type IRequestHandlerContext interface {
	// Connection returns the connection the request arrived on
	Connection() transport.IConnection

	// SendResponse sends a response for the request through the originating connection.
	// Handlers use it to reply later (e.g. from another goroutine) after returning a nil
	// response. It fails for oneway requests and closed connections.
	SendResponse(resp *common.Response) error
}

// IRequestHandler handles all requests of one request code
type IRequestHandler interface {
	// HandleRequest processes the request. A non-nil response is sent back unless the
	// request is oneway. A returned error (or a panic) is sent back as a failure response
	// with code common.ResponseCodeFailed carrying the error message.
	HandleRequest(ctx IRequestHandlerContext, req *common.Request) (*common.Response, error)
}

// RequestHandlerFunc adapts a function to IRequestHandler
type RequestHandlerFunc func(ctx IRequestHandlerContext, req *common.Request) (*common.Response, error)

func (f RequestHandlerFunc) HandleRequest(ctx IRequestHandlerContext, req *common.Request) (*common.Response, error) {
	return f(ctx, req)
}
