package call

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/remoting/cmd/util"
	"github.com/ValentinKolb/remoting/rpc/client"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/spf13/cobra"
)

var (
	syncCmd = &cobra.Command{
		Use:   "sync [code] [body]",
		Short: "Sends a request and waits for the response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			header, err := util.GetHeader()
			if err != nil {
				return err
			}

			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			resp, err := c.InvokeSync(code, bodyArg(args, 1), header, util.GetTimeout())
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}
	asyncCmd = &cobra.Command{
		Use:   "async [code] [body]",
		Short: "Sends a request and waits on the response future",
		Long:  "Sends a request and waits on the response future. A request without response within the timeout completes with the timeout code.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			header, err := util.GetHeader()
			if err != nil {
				return err
			}

			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			future, err := c.InvokeAsync(code, bodyArg(args, 1), header, util.GetTimeout())
			if err != nil {
				return err
			}
			fmt.Printf("sent request %d\n", future.Request.Sequence)

			resp, err := future.Wait(context.Background())
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}
	onewayCmd = &cobra.Command{
		Use:   "oneway [code] [body]",
		Short: "Sends a request without expecting a response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			header, err := util.GetHeader()
			if err != nil {
				return err
			}

			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if err := c.InvokeOneway(code, bodyArg(args, 1), header); err != nil {
				return err
			}
			waitSent(c)
			fmt.Println("sent successfully")
			return nil
		},
	}
	callbackCmd = &cobra.Command{
		Use:   "callback [code] [body]",
		Short: "Sends a request whose response is delivered to a response handler",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			header, err := util.GetHeader()
			if err != nil {
				return err
			}

			responses := make(chan *common.Response, 1)
			c, err := newClient(func(c *client.RemotingClient) {
				c.RegisterResponseHandler(code, client.ResponseHandlerFunc(func(resp *common.Response) {
					responses <- resp
				}))
			})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if err := c.InvokeWithCallback(code, bodyArg(args, 1), header); err != nil {
				return err
			}

			// callback requests have no timeout on their own
			ctx, cancel := context.WithTimeout(context.Background(), util.GetTimeout())
			defer cancel()
			select {
			case resp := <-responses:
				printResponse(resp)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("no callback response within %s", util.GetTimeout())
			}
		},
	}
	listenCmd = &cobra.Command{
		Use:   "listen [code...]",
		Short: "Prints push messages with the given codes until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := make([]int16, 0, len(args))
			for _, arg := range args {
				code, err := parseCode(arg)
				if err != nil {
					return err
				}
				codes = append(codes, code)
			}

			c, err := newClient(func(c *client.RemotingClient) {
				for _, code := range codes {
					c.RegisterPushMessageHandler(code, client.PushMessageHandlerFunc(func(msg *common.ServerMessage) {
						fmt.Printf("push %d: %s %v\n", msg.Code, msg.Body, msg.Header)
					}))
				}
			})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			fmt.Printf("listening for push messages %v on %s\n", codes, c.ServerEndpoint())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
)

// waitSent waits until all queued messages were written or the timeout passed
func waitSent(c *client.RemotingClient) {
	deadline := time.Now().Add(util.GetTimeout())
	for c.PendingMessageCount() > 0 && c.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

// printResponse prints a response in a readable form
func printResponse(resp *common.Response) {
	if resp.Failed() {
		fmt.Printf("failed (code %d): %s\n", resp.ResponseCode, resp.ResponseBody)
		return
	}
	fmt.Printf("code:   %d\n", resp.ResponseCode)
	if len(resp.ResponseHeader) > 0 {
		fmt.Printf("header: %v\n", resp.ResponseHeader)
	}
	fmt.Printf("body:   %s\n", resp.ResponseBody)
	fmt.Printf("took:   %s\n", resp.ResponseTime.Sub(resp.RequestTime))
}
