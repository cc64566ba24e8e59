package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"resinctl/host/client"
)

var errQuit = errors.New("quit")

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session on one connection",
	Long: `Interactive session on one connection. Words are split like a POSIX
shell; a line starting with an upper-case protocol keyword is sent as-is.
Type 'help' for the command list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Connected. Type 'help' for available commands, 'quit' to exit.")
			return runShell(c, cmd.InOrStdin(), cmd.OutOrStdout(), true)
		})
	},
}

type shellCommand struct {
	usage string
	args  int // exact argument count, -1 for any
	run   func(c *client.Client, args []string, out io.Writer) error
}

func numbers(args []string, f func([]float64) error) error {
	vals, err := parseFloats(args)
	if err != nil {
		return err
	}
	return f(vals)
}

var shellCommands = map[string]shellCommand{
	"axis": {"axis <axis> <pulses_per_rev> <lead_mm>", 3, func(c *client.Client, a []string, _ io.Writer) error {
		return numbers(a[1:], func(v []float64) error { return c.ConfigAxis(a[0], v[0], v[1]) })
	}},
	"peel": {"peel <lift> <return> <speed_down> <speed_up>", 4, func(c *client.Client, a []string, _ io.Writer) error {
		return numbers(a, func(v []float64) error { return c.ConfigZPeel(v[0], v[1], v[2], v[3]) })
	}},
	"wipe": {"wipe <dist> <fast> <slow>", 3, func(c *client.Client, a []string, _ io.Writer) error {
		return numbers(a, func(v []float64) error { return c.ConfigAWipe(v[0], v[1], v[2]) })
	}},
	"trim": {"trim <speed_down> <speed_up>", 2, func(c *client.Client, a []string, _ io.Writer) error {
		return numbers(a, func(v []float64) error { return c.ConfigBLevel(v[0], v[1]) })
	}},
	"next": {"next", 0, func(c *client.Client, _ []string, _ io.Writer) error {
		return c.NextLayer()
	}},
	"move": {"move <axis> <dist> <speed> [accel]", -1, func(c *client.Client, a []string, _ io.Writer) error {
		if len(a) != 3 && len(a) != 4 {
			return errors.New("usage: move <axis> <dist> <speed> [accel]")
		}
		return numbers(a[1:], func(v []float64) error {
			accel := 2 * v[1]
			if len(v) == 3 {
				accel = v[2]
			}
			return c.MoveRel(a[0], v[0], v[1], accel)
		})
	}},
	"jog": {"jog <dist>", 1, func(c *client.Client, a []string, _ io.Writer) error {
		return numbers(a, func(v []float64) error { return c.Jog(v[0]) })
	}},
	"level": {"level on|off", 1, func(c *client.Client, a []string, _ io.Writer) error {
		on, err := parseSwitch(a[0])
		if err != nil {
			return err
		}
		return c.EnableLevelComp(on)
	}},
	"park": {"park <layers> <lift> <return>", 3, func(c *client.Client, a []string, _ io.Writer) error {
		layers, err := strconv.Atoi(a[0])
		if err != nil {
			return fmt.Errorf("layers: %q is not an integer", a[0])
		}
		return numbers(a[1:], func(v []float64) error { return c.Park(layers, v[0], v[1]) })
	}},
	"send": {"send <line>", 1, func(c *client.Client, a []string, out io.Writer) error {
		resp, err := c.Send(a[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp)
		return nil
	}},
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	names := []string{"axis", "peel", "wipe", "trim", "next", "move", "jog", "level", "park", "send"}
	for _, n := range names {
		fmt.Fprintf(out, "  %s\n", shellCommands[n].usage)
	}
	fmt.Fprintln(out, "  KEYWORD,args...   - send a raw protocol line")
	fmt.Fprintln(out, "  help              - Show this help message")
	fmt.Fprintln(out, "  quit/exit/q       - Exit the shell")
	fmt.Fprintln(out)
}

// isRawLine reports whether line starts with an upper-case protocol
// keyword
func isRawLine(line string) bool {
	kw, _, _ := strings.Cut(line, ",")
	if kw == "" {
		return false
	}
	for _, r := range kw {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

// execShellLine runs one shell line
func execShellLine(c *client.Client, line string, out io.Writer) error {
	if isRawLine(line) {
		if verbose {
			fmt.Fprintf(out, "-> %s\n", line)
		}
		resp, err := c.Send(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp)
		return nil
	}

	words, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(words) == 0 {
		return nil
	}

	switch words[0] {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		printHelp(out)
		return nil
	}

	sc, ok := shellCommands[words[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", words[0])
	}
	args := words[1:]
	if sc.args >= 0 && len(args) != sc.args {
		return fmt.Errorf("usage: %s", sc.usage)
	}
	if err := sc.run(c, args, out); err != nil {
		return err
	}
	if words[0] != "send" {
		fmt.Fprintln(out, "ok")
	}
	return nil
}

// runShell reads commands from in until EOF or quit. Command failures are
// printed and the session continues.
func runShell(c *client.Client, in io.Reader, out io.Writer, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := execShellLine(c, line, out)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}
