// Package client implements the client side of the remoting transport: one connection
// to a fixed server endpoint, request/response correlation, reconnection and server
// push handling.
//
// The package focuses on:
//   - Four invocation modes: oneway, async (future), sync (future plus bounded wait) and
//     callback (response routed to a handler registered per request code)
//   - Correlation of out-of-order responses by request sequence
//   - Request timeouts enforced by a periodic sweep instead of per-request timers
//   - Automatic reconnection and cooperative flow control
//
// Key Components:
//
//   - RemotingClient: The client. Pending async requests live in a concurrent map keyed
//     by sequence; a response and the timeout sweep race for the entry and only the one
//     removing it completes the future. The observed timeout is the configured timeout
//     plus up to one ScanTimeoutRequestInterval. Reconnection is driven by a scheduled
//     task and guarded by a compare-and-set flag so attempts never overlap.
//
//   - ResponseFuture: Single-assignment result of an async request.
//
//   - IResponseHandler, IPushMessageHandler: Receive callback responses and push
//     messages per code. Handlers must be registered before Start.
//
//   - TimeoutError, RequestError, ServerUnavailableError, ResponseFutureAddFailedError,
//     ErrClientShutdown: Typed failures for errors.As / errors.Is.
//
// Usage Example:
//
//	c, _ := client.NewRemotingClient(common.DefaultClientConfig("localhost:5000"), nil, nil)
//	if err := c.Start(); err != nil {
//	  // the client keeps reconnecting in the background
//	}
//	defer c.Shutdown()
//
//	resp, err := c.InvokeSync(100, []byte("ping"), nil, time.Second)
//	var timeout *client.TimeoutError
//	if errors.As(err, &timeout) {
//	  // no response within one second
//	}
//
// Thread Safety:
//
//	All invocation methods are safe for concurrent use. Response and push handlers
//	run on the reader goroutine of the connection and must not block.
package client
