// Package common provides the data structures and utilities shared by the remoting
// client, server and transport. It defines the protocol messages, the configuration
// structures and the logging integration.
//
// The package focuses on:
//   - Message protocol definition for request, response and server push frames
//   - Configuration structures for client and server sockets
//   - Custom logging implementation integrated with Dragonboat's logger
//
// Key Components:
//
//   - Request: A call from a client. Carries a process-wide unique sequence used to
//     correlate the response, an operation code selecting the handler, the invocation
//     mode (RequestType), a string header and a binary body.
//
//   - Response: The reply to a request. Echoes sequence, code, mode, creation time and
//     header of the request. Two negative response codes are reserved: ResponseCodeFailed
//     for server side failures and ResponseCodeTimeout for requests the client gave up on.
//
//   - ServerMessage: Every frame sent by a server. ServerMessageTypeResponse wraps an
//     encoded Response, ServerMessageTypePush is an unsolicited message, so a single
//     connection multiplexes replies and push.
//
//   - SocketConfig, ClientConfig, ServerConfig: Socket buffers, flow control threshold,
//     reconnect and timeout scan intervals, receive buffer pool sizing and TCP tuning.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
