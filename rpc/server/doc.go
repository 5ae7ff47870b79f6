// Package server implements the server side of the remoting transport. It accepts
// connections, dispatches every request to the handler registered for its code and
// pushes server messages to connected clients.
//
// The package focuses on:
//   - Request dispatch by request code with failure responses for missing handlers,
//     handler errors and handler panics
//   - Suppression of every response for oneway requests
//   - Deferred replies through the handler context, which allow out-of-order responses
//   - Push messages to all or to a single connection
//
// Key Components:
//
//   - RemotingServer: Owns the server socket, the receive buffer pool and the handler
//     table. A scheduled task periodically asks the pool to shrink.
//
//   - IRequestHandler: Handles the requests of one code. Returning a response sends it
//     back; returning nil sends nothing (the handler may reply later through
//     IRequestHandlerContext.SendResponse); returning an error sends a response with
//     code common.ResponseCodeFailed and the error message as body.
//
//   - IRequestHandlerContext: Exposes the originating connection and SendResponse.
//
// Usage Example:
//
//	s, _ := server.NewRemotingServer(common.DefaultServerConfig("0.0.0.0:5000"), nil, nil)
//	s.RegisterRequestHandler(100, server.RequestHandlerFunc(
//	  func(ctx server.IRequestHandlerContext, req *common.Request) (*common.Response, error) {
//	    return common.NewResponse(req, 10, []byte("pong")), nil
//	  }))
//
//	if err := s.Start(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//	defer s.Shutdown()
//
//	_ = s.PushToAll(common.NewPushMessage(300, []byte("hello"), nil))
//
// Thread Safety:
//
//	Handlers run on the reader goroutine of the connection the request arrived on,
//	so requests of one connection are handled in arrival order and a blocking handler
//	stalls only its own connection. Push and handler registration are safe for
//	concurrent use.
package server
