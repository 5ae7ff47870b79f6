// Package rpc provides a binary request/response and server push transport over TCP.
// It acts as the communication layer between a remoting client and a remoting server.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the system, including Request, Response
//     and ServerMessage, the reserved response codes, configuration structures, logging
//     and metric names.
//
//   - serializer: The little-endian binary wire format of all message families.
//
//   - framing: The length-prefixed stream framer that splits a byte stream into frames.
//
//   - transport: The connection contracts, with the TCP implementation in transport/tcp
//     (per-connection FIFO outbound queue, batched writes, pooled receive buffers,
//     client and server sockets).
//
//   - client: The remoting client with oneway, async, sync and callback invocations,
//     timeout sweep, reconnection and push handling.
//
//   - server: The remoting server with request dispatch by code and push to clients.
package rpc
