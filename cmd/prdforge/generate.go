package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/service"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ", ") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	feature := fs.String("feature", "", "feature request text (required)")
	featureContext := fs.String("context", "", "background for the request")
	priority := fs.String("priority", string(generation.PriorityMedium), "low, medium, high or critical")
	requestID := fs.String("request-id", "", "external request id for context lookup")
	projectID := fs.String("project-id", "", "external project id for codebase lookup")
	noInput := fs.Bool("no-input", false, "never prompt; leave unanswerable questions open")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	var reqs stringList
	fs.Var(&reqs, "req", "a stated requirement (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*feature) == "" {
		return fmt.Errorf("--feature is required")
	}

	e, err := newEngine(ctx, engineOptions{configPath: *configPath, interactive: !*noInput})
	if err != nil {
		return err
	}
	defer e.Close()

	id := e.orch.StartSession(ctx)
	defer func() { _ = e.orch.ReleaseSession(ctx, id) }()

	res, err := e.orch.Generate(ctx, id, generation.Request{
		Feature:      *feature,
		Context:      *featureContext,
		Priority:     generation.Priority(*priority),
		Requirements: reqs,
		RequestID:    *requestID,
		ProjectID:    *projectID,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Println(res.Document)
	fmt.Fprintf(os.Stderr, "\nprovider=%s composite=%.2f iterations=%d status=%s\n",
		res.Provider, res.Quality.Composite, res.Iterations, res.Status)
	if res.BelowTarget() {
		fmt.Fprintf(os.Stderr, "warning: document is below the target score\n")
	}
	for _, g := range res.Validation.Gaps {
		fmt.Fprintf(os.Stderr, "gap: %s\n", g)
	}
	for _, i := range res.Validation.Issues {
		fmt.Fprintf(os.Stderr, "issue: %s\n", i)
	}
	return nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	message := fs.String("message", "", "send one message and exit")
	asJSON := fs.Bool("json", false, "ask for a JSON object reply")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEngine(ctx, engineOptions{configPath: *configPath})
	if err != nil {
		return err
	}
	defer e.Close()
	e.watchReload(ctx)

	id := e.orch.StartSession(ctx)
	defer func() { _ = e.orch.ReleaseSession(ctx, id) }()
	opts := service.ChatOptions{JSON: *asJSON}

	if *message != "" {
		return chatTurn(ctx, e, id, *message, opts)
	}

	sc := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "> ")
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			if err := chatTurn(ctx, e, id, line, opts); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		fmt.Fprint(os.Stderr, "> ")
	}
	return sc.Err()
}

func chatTurn(ctx context.Context, e *engine, id, message string, opts service.ChatOptions) error {
	reply, used, err := e.orch.Chat(ctx, id, message, opts)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	fmt.Fprintf(os.Stderr, "[%s]\n", used)
	return nil
}
