// raidscope decodes the UDP traffic of a game client passively and shows
// the players and valuable loot around the local player.
//
// Packets come from a replayed capture, a TZSP mirror or an external
// capture process. The decoded world is published to a terminal console,
// a REST API with a websocket dashboard, and MQTT telemetry.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raidscope/raidscope/internal/capture"
	"github.com/raidscope/raidscope/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬─┐┌─┐┬┌┬┐┌─┐┌─┐┌─┐┌─┐┌─┐
  ├┬┘├─┤│ ││└─┐│  │ │├─┘├┤
  ┴└─┴ ┴┴─┴┘└─┘└─┘└─┘┴  └─┘  %s
`

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "raidscope",
		Short: "Passive game traffic decoder",
		Long: `raidscope reassembles the game's UDP transport, decodes the world
messages it carries and keeps a live table of players and loot.

Run "raidscope run" to use the configured packet source, or pick one
explicitly with "replay" or "listen".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", config.DefaultConfigDir, "configuration directory")

	rootCmd.AddCommand(
		runCmd(&configDir),
		replayCmd(&configDir),
		listenCmd(&configDir),
		convertCmd(),
		itemdbCmd(&configDir),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func runCmd(configDir *string) *cobra.Command {
	var noConsole bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode packets from the configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}
			return serve(cfg, !noConsole)
		},
	}
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the interactive console")
	return cmd
}

func replayCmd(configDir *string) *cobra.Command {
	var (
		strict    bool
		delay     time.Duration
		skip      int
		limit     int
		noConsole bool
	)
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode a recorded NDJSON packet log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}
			c := cfg.GetCapture()
			c.Mode = config.ModeReplay
			c.ReplayFile = args[0]
			if cmd.Flags().Changed("strict") {
				c.Strict = strict
			}
			if cmd.Flags().Changed("delay") {
				c.PacketDelayMS = int(delay / time.Millisecond)
			}
			if cmd.Flags().Changed("skip") {
				c.Skip = skip
			}
			if cmd.Flags().Changed("limit") {
				c.Limit = limit
			}
			cfg.SetCapture(c)
			return serve(cfg, !noConsole)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", true, "stop on the first decode mismatch")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between packets")
	cmd.Flags().IntVar(&skip, "skip", 0, "skip the first N packets")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after N packets")
	cmd.Flags().BoolVar(&noConsole, "no-console", true, "disable the interactive console")
	return cmd
}

func listenCmd(configDir *string) *cobra.Command {
	var (
		port      int
		subnet    string
		noConsole bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Decode packets mirrored over TZSP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}
			c := cfg.GetCapture()
			c.Mode = config.ModeTZSP
			if cmd.Flags().Changed("port") {
				c.TZSPPort = port
			}
			if cmd.Flags().Changed("subnet") {
				c.MirrorSubnet = subnet
			}
			cfg.SetCapture(c)
			return serve(cfg, !noConsole)
		},
	}
	cmd.Flags().IntVar(&port, "port", config.DefaultTZSPPort, "TZSP listen port")
	cmd.Flags().StringVar(&subnet, "subnet", capture.DefaultMirrorPrefix, "address prefix of the local machine")
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the interactive console")
	return cmd
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in.json> <out.ndjson>",
		Short: "Convert a JSON array capture export to NDJSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			n, err := capture.Convert(in, out)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("convert %s: %w", args[0], err)
			}
			fmt.Printf("wrote %d records to %s\n", n, args[1])
			return nil
		},
	}
}

func itemdbCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "itemdb",
		Short: "Manage the item database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <dir>",
		Short: "Import item JSON files into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}
			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer catalog.Close()

			n, err := catalog.ImportDir(args[0])
			if err != nil {
				return err
			}
			total, _ := catalog.Count()
			fmt.Printf("imported %d items, %d in %s\n", n, total, cfg.ItemDB.Path)
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("raidscope %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
