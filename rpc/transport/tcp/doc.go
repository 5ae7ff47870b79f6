// Package tcp implements the connection and socket layer of the remoting system on top
// of TCP.
//
// Key Components:
//
//   - tcpConnection: Implementation of transport.IConnection. Outbound messages are framed
//     and appended to a FIFO queue; a writer goroutine drains it in batches of at most
//     MaxSendPacketSize bytes with one vectored write per batch. A reader goroutine reads
//     into a receive buffer taken from the elastic buffer pool and feeds a framer owned by
//     the connection. A protocol error closes the connection.
//
//   - ClientSocket: One outbound connection to a fixed endpoint. Applies flow control:
//     once the number of pending messages reaches the threshold a sender sleeps briefly
//     before queueing.
//
//   - ServerSocket: Listens and accepts connections continuously, tracks live connections
//     in a concurrent registry keyed by connection id and queues payloads to one or all
//     connections.
//
// Socket options (TCP no delay, keep-alive, OS buffer sizes) are applied to every
// connection from the SocketConfig.
package tcp
