package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printHelp()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "generate":
		return runGenerate(ctx, args[1:])
	case "chat":
		return runChat(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "migrate":
		return runMigrate(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: prdforge <command> [options]

Commands:
  generate   Generate a requirements document for a feature request
  chat       Chat with the configured providers (one message, or a line-by-line session on stdin)
  runs       List audited generate runs for a session, or show one run
  migrate    Apply audit database migrations
  watch      Print progress events published on NATS
  help       Show this help message

Every command accepts --config (default prdforge.yaml). Send SIGHUP to reload
pipeline and clarification settings during a chat session.

Examples:
  prdforge generate --feature "Add OAuth2 login" --context "iOS app" --req "support biometric fallback"
  prdforge generate --feature "Export invoices" --request-id r-42 --project-id p-7 --json
  prdforge chat --message "Summarize the risks of a big-bang migration"
  prdforge runs --session 6f1c...
  prdforge watch
`)
}
