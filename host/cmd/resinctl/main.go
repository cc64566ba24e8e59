// Command resinctl drives a resin controller from the host: one subcommand
// per protocol command, a print park sequence and an interactive shell.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"resinctl/host/client"
	"resinctl/host/serial"
	"resinctl/protocol"
)

var (
	addr    string
	wsURL   string
	device  string
	baud    int
	timeout time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:     "resinctl",
	Short:   "resinctl sends commands to a resin printer controller",
	Version: protocol.Version,
	Long: `resinctl connects to a resin controller over TCP (default), WebSocket
(--ws) or its serial console (--serial) and sends line-protocol commands.
Every subcommand waits for the controller's response and fails on an
error response.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&addr, "addr", "a", fmt.Sprintf("localhost:%d", protocol.DefaultPort), "controller TCP address")
	f.StringVar(&wsURL, "ws", "", "controller WebSocket URL (ws://host:9100/ws)")
	f.StringVarP(&device, "serial", "s", "", "controller serial console device")
	f.IntVar(&baud, "baud", 115200, "serial console baud rate")
	f.DurationVarP(&timeout, "timeout", "t", client.DefaultTimeout, "per-command response timeout")
	f.BoolVarP(&verbose, "verbose", "v", false, "print every command and response")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect opens the transport selected by the flags
func connect() (*client.Client, error) {
	c := client.NewClient()
	c.SetTimeout(timeout)

	var err error
	switch {
	case device != "":
		cfg := serial.DefaultConfig(device)
		cfg.Baud = baud
		err = c.ConnectSerial(cfg)
	case wsURL != "":
		err = c.ConnectWS(wsURL)
	default:
		err = c.Connect(addr)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// withClient runs f on a fresh connection
func withClient(f func(*client.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()
	return f(c)
}

// parseFloats parses every argument as a number
func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not a number", i+1, a)
		}
		out[i] = v
	}
	return out, nil
}
