package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Socket configuration struct
// --------------------------------------------------------------------------

const (
	defaultBufferSize                      = 64 * 1024 // 64 KB
	defaultSendMessageFlowControlThreshold = 1000
	defaultReconnectionInterval            = 1000 * time.Millisecond
	defaultScanTimeoutRequestInterval      = 1000 * time.Millisecond
	defaultBufferPoolInitialSize           = 50
	defaultKeepAlive                       = 30 * time.Second
	defaultConnectTimeout                  = 5 * time.Second
	defaultPoolShrinkInterval              = 60 * time.Second
)

// SocketConfig holds the settings shared by client and server sockets
type SocketConfig struct {
	// OS socket buffers
	SendBufferSize    int
	ReceiveBufferSize int

	// MaxSendPacketSize bounds the bytes of one batched write (at least one frame is always written)
	MaxSendPacketSize int

	// SendMessageFlowControlThreshold is the number of pending outbound messages above which
	// a sender backs off
	SendMessageFlowControlThreshold int

	// ReconnectionInterval is the period of the client reconnect task
	ReconnectionInterval time.Duration

	// ScanTimeoutRequestInterval is the period of the client timeout sweep
	ScanTimeoutRequestInterval time.Duration

	// Receive buffer pool
	BufferPoolItemSize    int
	BufferPoolInitialSize int

	// TCP tuning
	TCPNoDelay   bool
	TCPKeepAlive time.Duration
}

// DefaultSocketConfig returns the default socket settings
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		SendBufferSize:                  defaultBufferSize,
		ReceiveBufferSize:               defaultBufferSize,
		MaxSendPacketSize:               defaultBufferSize,
		SendMessageFlowControlThreshold: defaultSendMessageFlowControlThreshold,
		ReconnectionInterval:            defaultReconnectionInterval,
		ScanTimeoutRequestInterval:      defaultScanTimeoutRequestInterval,
		BufferPoolItemSize:              defaultBufferSize,
		BufferPoolInitialSize:           defaultBufferPoolInitialSize,
		TCPNoDelay:                      true,
		TCPKeepAlive:                    defaultKeepAlive,
	}
}

// Validate checks that all sizes and intervals are positive
func (c *SocketConfig) Validate() error {
	checks := []struct {
		name  string
		value int64
	}{
		{"send buffer size", int64(c.SendBufferSize)},
		{"receive buffer size", int64(c.ReceiveBufferSize)},
		{"max send packet size", int64(c.MaxSendPacketSize)},
		{"flow control threshold", int64(c.SendMessageFlowControlThreshold)},
		{"reconnection interval", int64(c.ReconnectionInterval)},
		{"timeout scan interval", int64(c.ScanTimeoutRequestInterval)},
		{"buffer pool item size", int64(c.BufferPoolItemSize)},
		{"buffer pool initial size", int64(c.BufferPoolInitialSize)},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", check.name, check.value)
		}
	}
	return nil
}

func (c *SocketConfig) writeTo(addSection func(string), addField func(string, string)) {
	addSection("Socket")
	addField("Send Buffer", formatBytes(c.SendBufferSize))
	addField("Receive Buffer", formatBytes(c.ReceiveBufferSize))
	addField("Max Send Packet", formatBytes(c.MaxSendPacketSize))
	addField("Flow Control", strconv.Itoa(c.SendMessageFlowControlThreshold)+" messages")
	addField("Reconnect Interval", c.ReconnectionInterval.String())
	addField("Timeout Scan Interval", c.ScanTimeoutRequestInterval.String())
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", c.TCPKeepAlive.String())

	addSection("Buffer Pool")
	addField("Item Size", formatBytes(c.BufferPoolItemSize))
	addField("Initial Size", strconv.Itoa(c.BufferPoolInitialSize))
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a remoting server
type ServerConfig struct {
	// Name is used in log output
	Name string

	// Endpoint to listen on (host:port)
	Endpoint string

	// PoolShrinkInterval is the period of the receive buffer pool maintenance task
	PoolShrinkInterval time.Duration

	// MetricsEndpoint serves the prometheus metrics if not empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	Socket SocketConfig
}

// DefaultServerConfig returns a server config listening on the given endpoint
func DefaultServerConfig(endpoint string) ServerConfig {
	return ServerConfig{
		Name:               "remoting",
		Endpoint:           endpoint,
		PoolShrinkInterval: defaultPoolShrinkInterval,
		LogLevel:           "info",
		Socket:             DefaultSocketConfig(),
	}
}

// Validate checks the server configuration
func (c *ServerConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if c.PoolShrinkInterval <= 0 {
		return fmt.Errorf("pool shrink interval must be positive, got %s", c.PoolShrinkInterval)
	}
	return c.Socket.Validate()
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Name", c.Name)
	addField("Endpoint", c.Endpoint)
	addField("Pool Shrink Interval", c.PoolShrinkInterval.String())

	c.Socket.writeTo(addSection, addField)

	// Observability
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a remoting client
type ClientConfig struct {
	// ServerEndpoint is the remote endpoint (host:port)
	ServerEndpoint string

	// ConnectTimeout bounds a single connect attempt
	ConnectTimeout time.Duration

	// LocalEndpoint optionally binds the client side of the connection (host:port,
	// port 0 picks a free one). Empty lets the system choose.
	LocalEndpoint string

	Socket SocketConfig
}

// DefaultClientConfig returns a client config for the given server endpoint
func DefaultClientConfig(serverEndpoint string) ClientConfig {
	return ClientConfig{
		ServerEndpoint: serverEndpoint,
		ConnectTimeout: defaultConnectTimeout,
		Socket:         DefaultSocketConfig(),
	}
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	if c.ServerEndpoint == "" {
		return fmt.Errorf("no server endpoint provided")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.LocalEndpoint != "" {
		if _, err := net.ResolveTCPAddr("tcp", c.LocalEndpoint); err != nil {
			return fmt.Errorf("invalid local endpoint %q: %w", c.LocalEndpoint, err)
		}
	}
	return c.Socket.Validate()
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Server Endpoint", c.ServerEndpoint)
	addField("Connect Timeout", c.ConnectTimeout.String())
	if c.LocalEndpoint != "" {
		addField("Local Endpoint", c.LocalEndpoint)
	}

	c.Socket.writeTo(addSection, addField)

	return sb.String()
}

func formatBytes(n int) string {
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%d KB", n/1024)
	}
	return fmt.Sprintf("%d B", n)
}
