package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/iudanet/hearthsync/internal/cli"
	"github.com/iudanet/hearthsync/internal/core"
	"github.com/iudanet/hearthsync/internal/engine"
	"github.com/iudanet/hearthsync/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Sync server base URL")
	realtimeURL := flag.String("realtime", "", "Realtime websocket URL")
	dataDir := flag.String("data", defaultDataDir(), "Local data directory")
	logLevel := flag.String("log-level", "warn", "Log level (debug|info|warn|error)")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	c, err := core.New(ctx, core.Config{
		Logger:      logger,
		ServerURL:   *serverURL,
		RealtimeURL: *realtimeURL,
		StorePath:   filepath.Join(*dataDir, "store.db"),
		QueuePath:   filepath.Join(*dataDir, "queue.db"),
		OnDisclosure: func(report models.ConflictReport) {
			fmt.Fprintf(os.Stderr, "Notice: %s %s was changed elsewhere; the other change won\n",
				report.EntityType, report.EntityID)
		},
		OnRejected: func(rej *engine.RejectedError) {
			fmt.Fprintf(os.Stderr, "Warning: change to %s %s was rejected by the server: %s\n",
				rej.EntityType, rej.EntityID, rej.Reason)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Error("failed to close sync core", "error", err)
		}
	}()

	if err := runCommand(ctx, command, args[1:], c); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, command string, args []string, c *core.Core) error {
	switch command {
	case "add-task":
		return cli.RunAddTask(ctx, args, c)
	case "add-event":
		return cli.RunAddEvent(ctx, args, c)
	case "done":
		return cli.RunDone(ctx, args, c)
	case "set":
		return cli.RunSet(ctx, args, c)
	case "list":
		return cli.RunList(ctx, args, c)
	case "agenda":
		return cli.RunAgenda(ctx, args, c)
	case "delete":
		return cli.RunDelete(ctx, args, c)
	case "sync":
		return cli.RunSync(ctx, c)
	case "status":
		return cli.RunStatus(ctx, c)
	case "dead-letters":
		return cli.RunDeadLetters(ctx, c)
	case "watch":
		return cli.RunWatch(ctx, c)
	default:
		cli.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearthsync"
	}
	return filepath.Join(home, ".hearthsync")
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func printVersion() {
	fmt.Printf("HearthSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
