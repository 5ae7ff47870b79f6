// Package transport defines the connection abstraction of the remoting system. It
// provides the contracts shared by the TCP sockets, the client and the server.
//
// The package focuses on:
//   - Defining the connection contract (ordered outbound queue, ordered inbound dispatch)
//   - Connection lifecycle events for clients and servers
//
// Key Components:
//
//   - IConnection: One live socket with a FIFO outbound queue and an incremental
//     inbound frame parser. Closing is idempotent and discards unsent messages.
//
//   - IConnectionEventListener: Receives accepted, established, failed and closed
//     events. ConnectionEventFuncs adapts plain functions.
//
//   - MessageArrivedFunc: Function type for inbound message callbacks.
package transport
