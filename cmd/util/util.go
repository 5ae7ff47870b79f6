package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("remoting/cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read REMOTING_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("remoting")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging sets the level of all remoting loggers from the log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupSocketFlags adds the socket tuning flags shared by client and server commands
func SetupSocketFlags(cmd *cobra.Command) {
	defaults := common.DefaultSocketConfig()

	key := "send-buffer"
	cmd.PersistentFlags().Int(key, defaults.SendBufferSize/1024, WrapString("The size of the OS send buffer (in KB)"))

	key = "receive-buffer"
	cmd.PersistentFlags().Int(key, defaults.ReceiveBufferSize/1024, WrapString("The size of the OS receive buffer (in KB)"))

	key = "max-send-packet"
	cmd.PersistentFlags().Int(key, defaults.MaxSendPacketSize/1024, WrapString("The maximum size of one batched write (in KB). At least one message is always written"))

	key = "flow-control-threshold"
	cmd.PersistentFlags().Int(key, defaults.SendMessageFlowControlThreshold, WrapString("Number of pending outbound messages at which senders back off"))

	key = "reconnect-interval"
	cmd.PersistentFlags().Duration(key, defaults.ReconnectionInterval, WrapString("Interval between reconnect attempts of the client"))

	key = "scan-timeout-interval"
	cmd.PersistentFlags().Duration(key, defaults.ScanTimeoutRequestInterval, WrapString("Interval of the client request timeout sweep"))

	key = "pool-item-size"
	cmd.PersistentFlags().Int(key, defaults.BufferPoolItemSize/1024, WrapString("The size of one receive buffer (in KB)"))

	key = "pool-initial-size"
	cmd.PersistentFlags().Int(key, defaults.BufferPoolInitialSize, WrapString("Number of receive buffers allocated up front"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Duration(key, defaults.TCPKeepAlive, WrapString("The TCP keepalive period (0 disables keepalive)"))
}

// GetSocketConfig reads the socket configuration from viper
func GetSocketConfig() common.SocketConfig {
	return common.SocketConfig{
		SendBufferSize:                  viper.GetInt("send-buffer") * 1024,
		ReceiveBufferSize:               viper.GetInt("receive-buffer") * 1024,
		MaxSendPacketSize:               viper.GetInt("max-send-packet") * 1024,
		SendMessageFlowControlThreshold: viper.GetInt("flow-control-threshold"),
		ReconnectionInterval:            viper.GetDuration("reconnect-interval"),
		ScanTimeoutRequestInterval:      viper.GetDuration("scan-timeout-interval"),
		BufferPoolItemSize:              viper.GetInt("pool-item-size") * 1024,
		BufferPoolInitialSize:           viper.GetInt("pool-initial-size"),
		TCPNoDelay:                      viper.GetBool("tcp-nodelay"),
		TCPKeepAlive:                    viper.GetDuration("tcp-keepalive"),
	}
}

// SetupClientFlags adds the client connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:5000", WrapString("The address of the remoting server"))

	key = "connect-timeout"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("The timeout of a single connect attempt"))

	key = "local-endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("The local address the client binds to (empty = chosen by the system)"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("The timeout of a request (sync and async)"))

	key = "header"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("Request header entries in the format key=value (repeatable or comma separated)"))

	SetupSocketFlags(cmd)
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		ServerEndpoint: viper.GetString("endpoint"),
		ConnectTimeout: viper.GetDuration("connect-timeout"),
		LocalEndpoint:  viper.GetString("local-endpoint"),
		Socket:         GetSocketConfig(),
	}
}

// GetTimeout returns the configured request timeout
func GetTimeout() time.Duration {
	return viper.GetDuration("timeout")
}

// GetHeader parses the header flag
func GetHeader() (map[string]string, error) {
	entries := viper.GetStringSlice("header")
	if len(entries) == 0 {
		return nil, nil
	}

	header := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header entry: %s (expected key=value)", entry)
		}
		header[strings.TrimSpace(k)] = v
	}
	return header, nil
}
