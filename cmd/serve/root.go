package serve

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/ValentinKolb/remoting/cmd/util"
	"github.com/ValentinKolb/remoting/lib/schedule"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig   = &common.ServerConfig{}
	servePushPeriod  time.Duration
	serveCmdLogLevel string
	ServeCmd         = &cobra.Command{
		Use:     "serve",
		Short:   "Start a remoting server with the demo handlers",
		Long:    `Start a remoting server with the demo handlers. The configuration can be set via command line flags or environment variables. The format of the environment variables is REMOTING_<flag> (e.g. REMOTING_PUSH_INTERVAL=5s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:5000", cmdUtil.WrapString("The address on which the server will listen (host:port)"))

	key = "name"
	ServeCmd.PersistentFlags().String(key, "remoting", cmdUtil.WrapString("Name of the server used in log output"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address on which prometheus metrics are served at /metrics (e.g. :9100). Disabled if empty"))

	key = "push-interval"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString(fmt.Sprintf("Interval of a push message with code %d to all connected clients. Disabled if 0", CodePush)))

	key = "pool-shrink-interval"
	ServeCmd.PersistentFlags().Duration(key, 60*time.Second, cmdUtil.WrapString("Interval of the receive buffer pool maintenance"))

	cmdUtil.SetupSocketFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Name = viper.GetString("name")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.PoolShrinkInterval = viper.GetDuration("pool-shrink-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Socket = cmdUtil.GetSocketConfig()
	serveCmdLogLevel = serveCmdConfig.LogLevel

	servePushPeriod = viper.GetDuration("push-interval")
	if servePushPeriod < 0 {
		return fmt.Errorf("push interval must not be negative, got %s", servePushPeriod)
	}

	return serveCmdConfig.Validate()
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdLogLevel); err != nil {
		return err
	}

	scheduler := schedule.NewScheduler()

	serv, err := server.NewRemotingServer(*serveCmdConfig, nil, scheduler)
	if err != nil {
		return err
	}
	registerDemoHandlers(serv)

	if err := serv.Start(); err != nil {
		return err
	}
	defer serv.Shutdown()

	if servePushPeriod > 0 {
		pushTask := fmt.Sprintf("serve-%s-push", serveCmdConfig.Name)
		scheduler.Schedule(pushTask, func() { pushTime(serv) }, servePushPeriod, servePushPeriod)
		defer func() { <-scheduler.Cancel(pushTask) }()
	}

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := startMetricsServer(serveCmdConfig.MetricsEndpoint)
		defer func() { _ = metricsServer.Close() }()
	}

	// wait for a termination signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	cmdUtil.Logger.Infof("Received %s, shutting down", s)

	return nil
}

// startMetricsServer serves the VictoriaMetrics default set in the prometheus text format
func startMetricsServer(endpoint string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	srv := &http.Server{Addr: endpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		cmdUtil.Logger.Infof("Serving metrics on %s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cmdUtil.Logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}
