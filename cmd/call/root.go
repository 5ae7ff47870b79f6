package call

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/remoting/cmd/util"
	"github.com/ValentinKolb/remoting/rpc/client"
	"github.com/spf13/cobra"
)

var (
	// CallCommands represents the client command group
	CallCommands = &cobra.Command{
		Use:               "call",
		Short:             "Send requests to a remoting server",
		PersistentPreRunE: setupCall,
	}
)

func init() {
	// Add client flags to the call command
	util.SetupClientFlags(CallCommands)

	// Add subcommands
	CallCommands.AddCommand(syncCmd)
	CallCommands.AddCommand(asyncCmd)
	CallCommands.AddCommand(onewayCmd)
	CallCommands.AddCommand(callbackCmd)
	CallCommands.AddCommand(listenCmd)
	CallCommands.AddCommand(perfTestCmd)
}

// setupCall binds the flags and initializes the loggers
func setupCall(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.InitLogging()
}

// newClient creates a client from the flags, lets setup register handlers and connects
func newClient(setup func(c *client.RemotingClient)) (*client.RemotingClient, error) {
	c, err := client.NewRemotingClient(util.GetClientConfig(), nil, nil)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		setup(c)
	}
	if err := c.Start(); err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

// parseCode parses a request or push code argument
func parseCode(arg string) (int16, error) {
	code, err := strconv.ParseInt(arg, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("code must be a 16 bit number: %w", err)
	}
	return int16(code), nil
}

// bodyArg returns the optional body argument at index i
func bodyArg(args []string, i int) []byte {
	if len(args) > i {
		return []byte(args[i])
	}
	return nil
}
