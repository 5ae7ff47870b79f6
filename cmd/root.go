package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/remoting/cmd/call"
	"github.com/ValentinKolb/remoting/cmd/serve"
	"github.com/ValentinKolb/remoting/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "remoting",
		Short: "binary request/response and push transport over TCP",
		Long: fmt.Sprintf(`remoting (v%s)

A binary request/response and server push transport over TCP written in Go,
with async, sync, oneway and callback invocations, request timeouts,
automatic reconnection and cooperative flow control.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of remoting",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remoting v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
