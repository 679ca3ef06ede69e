package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	cfnats "github.com/Strob0t/prdforge/internal/adapter/nats"
	"github.com/Strob0t/prdforge/internal/adapter/postgres"
	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain"
	"github.com/Strob0t/prdforge/internal/port/audit"
)

var errNoAuditStore = errors.New("no audit database configured (set postgres.dsn or DATABASE_URL)")

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	sessionID := fs.String("session", "", "list runs of this session")
	runID := fs.String("run", "", "show one run with its clarifications")
	limit := fs.Int("limit", 20, "maximum number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*sessionID == "") == (*runID == "") {
		return fmt.Errorf("exactly one of --session or --run is required")
	}

	e, err := newEngine(ctx, engineOptions{configPath: *configPath})
	if err != nil {
		return err
	}
	defer e.Close()
	if e.store == nil {
		return errNoAuditStore
	}

	if *runID != "" {
		rec, err := e.store.GetRun(ctx, *runID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("run %s not found", *runID)
		}
		if err != nil {
			return err
		}
		printRuns([]audit.Record{*rec})
		for i, a := range rec.Clarifications {
			fmt.Printf("%d. %s\n   -> %s (%s", i+1, a.Question, a.Answer, a.Source)
			if a.Source.Auto() {
				fmt.Printf(", confidence %.2f", a.Confidence)
			}
			fmt.Println(")")
		}
		return nil
	}

	recs, err := e.store.ListRunsBySession(ctx, *sessionID, *limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	printRuns(recs)
	return nil
}

func printRuns(recs []audit.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFINISHED\tPROVIDER\tSCORE\tITER\tSTATUS\tCLARIFIED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\t%d\n",
			r.RunID, r.FinishedAt.Format(time.RFC3339), r.Provider, r.Composite, r.Iterations, r.Status, len(r.Clarifications))
	}
	_ = w.Flush()
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return errNoAuditStore
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Audit schema at version %d\n", version)
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("no NATS server configured (set nats.url or NATS_URL)")
	}
	bus, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	stop, err := bus.Subscribe(ctx, func(subject string, data []byte) {
		fmt.Printf("%s %s\n", subject, data)
	})
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return nil
}
