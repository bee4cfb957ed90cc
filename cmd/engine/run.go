package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fenwick-labs/agentengine/config"
	"github.com/fenwick-labs/agentengine/loop"
)

// RunCmd executes one task directly against the loop, without
// starting a server: either the task given as an argument, or an
// interactive REPL when no task is given.
type RunCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path"`
	Task   string `arg:"" optional:"" help:"Task to execute. Omit to start an interactive session."`
}

func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	if missing := config.RequireAPIKeys(cfg); len(missing) > 0 {
		return fmt.Errorf("missing API key(s) for provider(s): %v", missing)
	}

	providers, err := buildProviderRegistry(cfg)
	if err != nil {
		return err
	}
	eng := buildEngine(cfg, providers)

	ctx, cancel := signalContext()
	defer cancel()

	if c.Task != "" {
		return runOnce(ctx, eng.Loop, eng.Config, c.Task)
	}
	return runInteractive(ctx, eng.Loop, eng.Config)
}

// runInteractive starts a stdin/stdout chat session, printing each
// progress event as it streams from the loop.
func runInteractive(ctx context.Context, l *loop.Loop, cfg loop.Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Starting direct chat session. Commands:")
	fmt.Println("  /quit or /exit - end the session")
	fmt.Println()

	for {
		fmt.Print("You: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			fmt.Println("session ended")
			return nil
		}

		fmt.Print("Engine: ")
		if err := runOnce(ctx, l, cfg, input); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		fmt.Println()
	}
}

// runOnce drives a single task through the loop to completion,
// printing the assistant's final summary or the terminating error.
func runOnce(ctx context.Context, l *loop.Loop, cfg loop.Config, task string) error {
	events := l.Run(ctx, task, cfg)
	for ev := range events {
		if !ev.IsTerminal() {
			continue
		}
		switch ev.Kind {
		case loop.EventComplete:
			fmt.Println(ev.Data["summary"])
			return nil
		default:
			if reason, ok := ev.Data["reason"].(string); ok {
				return fmt.Errorf("%s: %s", ev.Kind, reason)
			}
			return fmt.Errorf("run ended with %s", ev.Kind)
		}
	}
	return fmt.Errorf("loop closed its event channel without a terminal event")
}
