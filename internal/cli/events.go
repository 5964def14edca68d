package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/cryptoquiz-go/internal/api/response"
)

func newEventsCmd() *cobra.Command {
	var changes bool

	cmd := &cobra.Command{
		Use:   "events [game-id]",
		Short: "Stream a game's events over SSE",
		Long: `Connect to the game's SSE endpoint and print its events as they happen.

Transitions are printed by default:
  - phase_changed: lobby -> quiz -> result
  - question_started: a new question is shown
  - choices_visible: answers are open
  - answer_revealed: the answer window closed
  - winner_declared: the game has a winner (or a tie)

Use --changes to also print the raw row changes behind them.
Press Ctrl+C to disconnect.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := resolveGameID(args)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return streamEvents(ctx, gameID, changes)
		},
	}

	cmd.Flags().BoolVar(&changes, "changes", false, "Also print raw row changes")

	return cmd
}

func streamEvents(ctx context.Context, gameID string, changes bool) error {
	body, err := client.Stream(ctx, "/api/v1/games/"+gameID+"/events")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	out := NewOutput(cfg.Output)
	if cfg.Output != "json" {
		fmt.Printf("Connected to game %s\n", gameID)
	}

	err = readSSE(body, func(event, data string) {
		if event != response.EventChange && event != response.EventTransition {
			return
		}
		if event == response.EventChange && !changes {
			return
		}
		var ev response.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			if cfg.Verbose {
				fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
			}
			return
		}
		out.PrintEvent(time.Now(), ev)
	})

	// Context cancellation is expected
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream error: %w", err)
	}
	if cfg.Output != "json" {
		fmt.Println("Disconnected")
	}
	return nil
}

// readSSE calls fn for each event on an SSE stream until it ends.
// Comment lines such as keepalives are skipped.
func readSSE(r io.Reader, fn func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			// End of event
			if currentEvent != "" {
				fn(currentEvent, strings.Join(dataLines, "\n"))
			}
			currentEvent = ""
			dataLines = nil
		}
	}
	return scanner.Err()
}
