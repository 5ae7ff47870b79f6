package tcp

import (
	"net"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("remoting/transport")

// MaxFrameLength bounds the payload of a single inbound frame
const MaxFrameLength = 64 * 1024 * 1024 // 64 MB

var (
	bytesSentTotal     = metrics.GetOrCreateCounter(common.MetricTransportBytesSentTotal)
	bytesReceivedTotal = metrics.GetOrCreateCounter(common.MetricTransportBytesRecvTotal)
	flowControlTotal   = metrics.GetOrCreateCounter(common.MetricTransportFlowControlTotal)
)

// tuneConnection applies the socket options of the config to a TCP connection
func tuneConnection(conn net.Conn, config common.SocketConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to tune
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	if config.SendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.SendBufferSize); err != nil {
			return err
		}
	}

	if config.ReceiveBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.ReceiveBufferSize); err != nil {
			return err
		}
	}

	if config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(config.TCPKeepAlive); err != nil {
			return err
		}
	}

	return nil
}

// notifyListeners calls fn for every listener and logs listener panics
func notifyListeners(event string, listeners []transport.IConnectionEventListener, fn func(transport.IConnectionEventListener)) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					Logger.Errorf("Connection event listener panicked on %s: %v", event, r)
				}
			}()
			fn(l)
		}()
	}
}
