// Command meshd is the agent mesh daemon: a loopback control-plane process
// that tracks AI-agent CLI sessions running in terminal-multiplexer panes,
// routes mesh messages between them, and escalates stalls.
//
// Grounded on original_source/daemon/__main__.py's --serve/--port/--db
// flags and original_source/daemon/pid.py's stop/status behavior, wired
// through cobra the way cmd/bd wires its daemon subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentmesh/daemon/internal/config"
	"github.com/agentmesh/daemon/internal/daemon"
	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/snapshot"
	"github.com/agentmesh/daemon/internal/store"
)

var (
	flagPort int
	flagDB   string
	flagDir  string
)

func main() {
	root := &cobra.Command{
		Use:   "meshd",
		Short: "Agent mesh daemon: orchestrates multiplexed AI-agent CLI sessions",
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", config.Dir(), "config/data directory")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "listen port (overrides daemon.toml and "+config.EnvPort+")")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides daemon.toml and "+config.EnvDB+")")

	root.AddCommand(serveCmd(), stopCmd(), statusCmd(), exportCmd(), importCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg := config.Load(flagDir)
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			log := daemonlog.New(os.Stdout)

			d := daemon.New(flagDir, cfg, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := d.Start(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Log("received %s, shutting down", sig)

			stopCtx, stopCancel := context.WithCancel(context.Background())
			defer stopCancel()
			return d.Stop(stopCtx)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopRunning(flagDir); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write a YAML snapshot of sessions, events, rules, and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := snapshot.Export(cmd.Context(), s, args[0]); err != nil {
				return err
			}
			fmt.Printf("exported snapshot to %s\n", args[0])
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Replay a YAML snapshot into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := snapshot.Import(cmd.Context(), s, args[0]); err != nil {
				return err
			}
			fmt.Printf("imported snapshot from %s\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid := daemon.Running(flagDir)
			if !running {
				fmt.Println("not running")
				return nil
			}
			fmt.Printf("running (pid %d)\n", pid)
			return nil
		},
	}
}
