// Package console provides the interactive command-line front end for the
// session manager.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/command"
	"github.com/devshojol/HC-06-Controller/internal/session"
)

// speedStep is the change applied by "+" and "-".
const speedStep = 10

// Console is a readline REPL over one session manager.
type Console struct {
	manager  *session.Manager
	registry *session.Registry
	rl       *readline.Instance
	out      io.Writer
	unwatch  func()
}

// New creates a console on the terminal.
func New(manager *session.Manager, registry *session.Registry) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hc06> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(manager, registry, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(manager *session.Manager, registry *session.Registry, out io.Writer) *Console {
	c := &Console{
		manager:  manager,
		registry: registry,
		out:      out,
	}
	c.unwatch = manager.OnEvent(c.handleEvent)
	return c
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("scan"),
		readline.PcItem("list"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("forward"),
		readline.PcItem("back"),
		readline.PcItem("left"),
		readline.PcItem("right"),
		readline.PcItem("stop"),
		readline.PcItem("speed"),
		readline.PcItem("horn"),
		readline.PcItem("light"),
		readline.PcItem("turbo"),
		readline.PcItem("say"),
		readline.PcItem("lines"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that coordinates with the prompt. Use it for log
// output.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop. It calls cancel when the user
// quits or closes the input.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.unwatch()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.dispatch(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// dispatch runs one input line and reports whether the user asked to quit.
func (c *Console) dispatch(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "scan":
		c.cmdScan(ctx)
	case "list", "ls", "devices":
		c.cmdList()
	case "connect", "c":
		c.cmdConnect(ctx, args)
	case "disconnect", "dc":
		c.report(c.manager.Disconnect())
	case "forward", "f", "w":
		c.sendDirection(ctx, command.Forward)
	case "back", "backward", "b":
		c.sendDirection(ctx, command.Backward)
	case "left", "l", "a":
		c.sendDirection(ctx, command.Left)
	case "right", "r", "d":
		c.sendDirection(ctx, command.Right)
	case "stop", "s", "x":
		c.sendDirection(ctx, command.Stop)
	case "speed":
		c.cmdSpeed(ctx, args)
	case "+":
		c.report(c.manager.SetSpeed(ctx, c.manager.Status().Speed+speedStep))
	case "-":
		c.report(c.manager.SetSpeed(ctx, c.manager.Status().Speed-speedStep))
	case "horn":
		c.sendAction(ctx, command.Horn)
	case "light", "lights":
		c.sendAction(ctx, command.Light)
	case "turbo":
		c.sendAction(ctx, command.Turbo)
	case "say", "send":
		c.cmdSay(ctx, input[len(parts[0]):])
	case "lines":
		c.cmdLines(args)
	case "status":
		c.cmdStatus()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
HC-06 Controller Commands:
  Devices:
    scan               - List paired devices from the adapter
    list               - Show the last scan
    connect <n|addr>   - Connect to device n from the list, or by address
    disconnect         - Drop the current session

  Driving:
    f / b / l / r / s  - Forward, back, left, right, stop
    speed <0-100>      - Set speed
    + / -              - Speed up or down by 10
    horn, light, turbo - Actions

  Other:
    say <text>         - Send free text
    lines [n]          - Show the last n received lines (default 20)
    status             - Show session status
    quit               - Exit`)
}

// report prints the notice for err, if any.
func (c *Console) report(err error) {
	if err == nil {
		return
	}
	n := session.Describe(err)
	fmt.Fprintf(c.out, "%s: %s\n", n.Title, n.Message)
}

func (c *Console) cmdScan(ctx context.Context) {
	if _, err := c.registry.ListPaired(ctx); err != nil {
		c.report(err)
		return
	}
	c.cmdList()
}

func (c *Console) cmdList() {
	devices := c.registry.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No paired devices. Pair the HC-06 in system settings, then scan.")
		return
	}
	for i, d := range devices {
		fmt.Fprintf(c.out, "  %d. %-20s %s\n", i+1, d.DisplayName(), d.Address)
	}
}

func (c *Console) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: connect <n|address>")
		return
	}
	dev, ok := c.resolve(args[0])
	if !ok {
		fmt.Fprintf(c.out, "Unknown device %q. Run 'scan' first.\n", args[0])
		return
	}
	fmt.Fprintf(c.out, "Connecting to %s...\n", dev.DisplayName())
	_, err := c.manager.Connect(ctx, dev)
	c.report(err)
}

// resolve accepts a 1-based index into the last scan or an address.
func (c *Console) resolve(arg string) (bt.Device, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		devices := c.registry.Devices()
		if n < 1 || n > len(devices) {
			return bt.Device{}, false
		}
		return devices[n-1], true
	}
	return c.registry.Lookup(arg)
}

func (c *Console) sendDirection(ctx context.Context, dir command.Direction) {
	cmd, err := command.EncodeDirection(dir)
	if err != nil {
		c.report(err)
		return
	}
	c.report(c.manager.Send(ctx, cmd))
}

func (c *Console) sendAction(ctx context.Context, kind command.Action) {
	cmd, err := command.EncodeAction(kind)
	if err != nil {
		c.report(err)
		return
	}
	c.report(c.manager.Send(ctx, cmd))
}

func (c *Console) cmdSpeed(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "Speed: %d\n", c.manager.Status().Speed)
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "Usage: speed <0-100>")
		return
	}
	c.report(c.manager.SetSpeed(ctx, n))
}

func (c *Console) cmdSay(ctx context.Context, text string) {
	cmd, err := command.FreeText(text)
	if errors.Is(err, command.ErrEmpty) {
		fmt.Fprintln(c.out, "Usage: say <text>")
		return
	}
	if err != nil {
		c.report(err)
		return
	}
	c.report(c.manager.Send(ctx, cmd))
}

func (c *Console) cmdLines(args []string) {
	n := 20
	if len(args) == 1 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	lines := c.manager.Lines().Since(0)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		fmt.Fprintf(c.out, "  %5d %s %s\n", l.Seq, l.At.Format("15:04:05"), l.Text)
	}
}

func (c *Console) cmdStatus() {
	st := c.manager.Status()
	fmt.Fprintf(c.out, "State:   %s\n", st.State)
	if st.Device != nil {
		fmt.Fprintf(c.out, "Device:  %s (%s)\n", st.Device.DisplayName(), st.Device.Address)
	}
	if st.SessionID != "" {
		fmt.Fprintf(c.out, "Session: %s\n", st.SessionID)
	}
	if st.ConnectedAt != nil {
		fmt.Fprintf(c.out, "Since:   %s\n", st.ConnectedAt.Format("15:04:05"))
	}
	fmt.Fprintf(c.out, "Speed:   %d\n", st.Speed)
	fmt.Fprintf(c.out, "Lines:   %d\n", c.manager.Lines().Len())
}

func (c *Console) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventState:
		fmt.Fprintf(c.out, "[%s]\n", ev.Status.State)
	case session.EventLine:
		fmt.Fprintf(c.out, "< %s\n", ev.Line.Text)
	case session.EventLost:
		fmt.Fprintf(c.out, "Link lost: %s\n", ev.Cause)
	}
}
