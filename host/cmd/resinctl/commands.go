package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"resinctl/host/client"
	"resinctl/host/serial"
)

// floatCommand builds a subcommand taking exactly len(names) numbers
func floatCommand(use, short string, names []string, f func(*client.Client, []float64) error) *cobra.Command {
	for _, n := range names {
		use += " <" + n + ">"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(len(names)),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseFloats(args)
			if err != nil {
				return err
			}
			return withClient(func(c *client.Client) error {
				if err := f(c, vals); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

var configAxisCmd = &cobra.Command{
	Use:   "config-axis <axis> <pulses_per_rev> <lead_mm>",
	Short: "Set an axis calibration",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		return withClient(func(c *client.Client) error {
			return c.ConfigAxis(args[0], vals[0], vals[1])
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <axis> <distance_mm> <speed_mm_s> [accel_mm_s2]",
	Short: "Move one axis relative to its position",
	Long: `Move one axis relative to its position. The acceleration defaults
to twice the speed.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		accel := 2 * vals[1]
		if len(vals) == 3 {
			accel = vals[2]
		}
		return withClient(func(c *client.Client) error {
			return c.MoveRel(args[0], vals[0], vals[1], accel)
		})
	},
}

var levelCompCmd = &cobra.Command{
	Use:       "level-comp on|off",
	Short:     "Switch resin-level compensation",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		return withClient(func(c *client.Client) error {
			return c.EnableLevelComp(on)
		})
	},
}

var parkCmd = &cobra.Command{
	Use:   "park <layers> <peel_lift_mm> <peel_return_mm>",
	Short: "Return the build plate after a print and lift it clear",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		layers, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("layers: %q is not an integer", args[0])
		}
		vals, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		return withClient(func(c *client.Client) error {
			return c.Park(layers, vals[0], vals[1])
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <line>",
	Short: "Send a raw command line and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			resp, err := c.Send(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		})
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func init() {
	rootCmd.AddCommand(
		configAxisCmd,
		floatCommand("config-z-peel", "Set the peel lift/return distances and speeds",
			[]string{"lift_mm", "return_mm", "speed_down", "speed_up"},
			func(c *client.Client, v []float64) error { return c.ConfigZPeel(v[0], v[1], v[2], v[3]) }),
		floatCommand("config-a-wipe", "Set the wipe distance and speeds",
			[]string{"dist_mm", "fast_speed", "slow_speed"},
			func(c *client.Client, v []float64) error { return c.ConfigAWipe(v[0], v[1], v[2]) }),
		floatCommand("config-b-level", "Set the level trim speeds",
			[]string{"speed_down", "speed_up"},
			func(c *client.Client, v []float64) error { return c.ConfigBLevel(v[0], v[1]) }),
		floatCommand("config", "Set the peel distances (single-axis firmware)",
			[]string{"lift_mm", "return_mm"},
			func(c *client.Client, v []float64) error { return c.Config(v[0], v[1]) }),
		floatCommand("jog", "Move the build plate at jog speed",
			[]string{"distance_mm"},
			func(c *client.Client, v []float64) error { return c.Jog(v[0]) }),
		&cobra.Command{
			Use:   "next-layer",
			Short: "Run the peel and wipe sequence",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(c *client.Client) error { return c.NextLayer() })
			},
		},
		moveCmd,
		levelCompCmd,
		parkCmd,
		sendCmd,
		portsCmd,
		shellCmd,
	)
}
