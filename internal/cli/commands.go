// Package cli implements the interactive console: status, the current
// player and loot tables, and the presentation commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/events"
)

// Engine is what the console drives.
type Engine interface {
	Snapshot() display.Snapshot
	Stats() engine.Stats
	Do(ctx context.Context, kind engine.CommandKind, arg string) error
}

// errQuit ends the loop.
var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	engine Engine
	bus    *events.Bus
	in     io.Reader
	out    io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(e Engine, bus *events.Bus, in io.Reader, out io.Writer) *CLI {
	return &CLI{engine: e, bus: bus, in: in, out: out}
}

// Start reads commands until quit, EOF or ctx is done.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nraidscope console ready. Type 'help' for available commands.")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "raidscope> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute runs a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers(args)
	case "loot", "l":
		return c.printLoot(args)
	case "stats":
		c.printStats()
	case "hide":
		return c.command(ctx, engine.CmdHide, args, "hide <id>")
	case "want":
		return c.command(ctx, engine.CmdWant, args, "want <template>")
	case "unwant":
		return c.command(ctx, engine.CmdUnwant, args, "unwant <template>")
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down raidscope...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status             Engine state and current session
  players [all]      Player table (alive only unless "all")
  loot [min_price]   Visible crates
  hide <id>          Hide a crate until the session ends
  want <template>    Always show crates holding the template
  unwant <template>  Remove a wanted template
  stats              Transport counters
  quit               Shut down raidscope
  help               Show this help message`)
}

func (c *CLI) printStatus() {
	st := c.engine.Stats()
	snap := c.engine.Snapshot()
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(c.out, "\n  Source:   %s (%s)\n", st.Source, state)
	fmt.Fprintf(c.out, "  Uptime:   %s\n", st.Uptime.Truncate(time.Second))
	fmt.Fprintf(c.out, "  Packets:  %d (queue %d/%d)\n", st.Packets, st.QueueLen, st.QueueCap)
	fmt.Fprintf(c.out, "  Session:  %d %s (%d this run)\n", st.SessionID, st.SessionUUID, st.Sessions)
	fmt.Fprintf(c.out, "  World:    %d players, %d loot, %d hidden\n", len(snap.Players), len(snap.Loot), snap.Hidden)
	if snap.Map != nil {
		fmt.Fprintf(c.out, "  Map:      %.0f,%.0f to %.0f,%.0f\n", snap.Map.Min.X, snap.Map.Min.Z, snap.Map.Max.X, snap.Map.Max.Z)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printPlayers(args []string) {
	all := len(args) > 0 && args[0] == "all"
	snap := c.engine.Snapshot()

	tw := c.table("Ch", "Nickname", "Side", "Tags", "Dist", "VDist", "Angle", "Loot", "State")
	for _, p := range snap.Players {
		if !all && !p.Alive {
			continue
		}
		state := "alive"
		if !p.Alive {
			state = "dead"
			if p.Death != nil && p.Death.Killer != "" {
				state = "killed by " + p.Death.Killer
			}
		}
		tw.Append([]string{
			strconv.Itoa(int(p.Channel)),
			p.Nickname,
			p.Side,
			p.Tags,
			fmt.Sprintf("%.1f", p.Distance),
			fmt.Sprintf("%.1f", p.VDist),
			strconv.Itoa(p.Angle),
			formatPrice(p.LootPrice),
			state,
		})
	}
	tw.Render()
}

func (c *CLI) printLoot(args []string) error {
	var minPrice int64
	if len(args) > 0 {
		p, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || p < 0 {
			return fmt.Errorf("invalid min price: %s", args[0])
		}
		minPrice = p
	}
	snap := c.engine.Snapshot()

	tw := c.table("ID", "Name", "Price", "Dist", "VDist", "Angle", "Items")
	for _, l := range snap.Loot {
		if l.Price < minPrice {
			continue
		}
		name := l.Name
		if l.Wanted {
			name = "* " + name
		}
		tw.Append([]string{
			l.ID,
			name,
			formatPrice(l.Price),
			fmt.Sprintf("%.1f", l.Distance),
			fmt.Sprintf("%.1f", l.VDist),
			strconv.Itoa(l.Angle),
			strconv.Itoa(l.Items),
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "%d hidden\n", snap.Hidden)
	return nil
}

func (c *CLI) printStats() {
	ts := c.engine.Stats().Transport
	tw := c.table("Counter", "Value")
	for _, row := range []struct {
		name string
		v    uint64
	}{
		{"packets", ts.Packets},
		{"dropped", ts.Dropped},
		{"untrusted", ts.Untrusted},
		{"messages", ts.Messages},
		{"fragments completed", ts.FragmentsCompleted},
		{"anomalies", ts.Anomalies},
		{"handler errors", ts.HandlerErrors},
		{"sessions", ts.Sessions},
	} {
		tw.Append([]string{row.name, strconv.FormatUint(row.v, 10)})
	}
	tw.Render()
}

func (c *CLI) command(ctx context.Context, kind engine.CommandKind, args []string, usage string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", usage)
	}
	if err := c.engine.Do(ctx, kind, args[0]); err != nil {
		return err
	}
	log.Debug().Str("command", string(kind)).Str("arg", args[0]).Msg("console command applied")
	fmt.Fprintf(c.out, "%s %s: ok\n", kind, args[0])
	return nil
}

func (c *CLI) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// formatPrice renders 1234567 as 1.2M and 45000 as 45k.
func formatPrice(p int64) string {
	switch {
	case p >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(p)/1_000_000)
	case p >= 1_000:
		return fmt.Sprintf("%dk", p/1_000)
	default:
		return strconv.FormatInt(p, 10)
	}
}
