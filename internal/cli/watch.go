package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/api/ws"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

func newWatchCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "watch [game-id]",
		Short: "Follow a game over WebSocket",
		Long: `Open the game's WebSocket stream and print its transitions.

With --interactive, lines typed on stdin are sent as mutations:
  start | show_choices | reveal | next | answer <choice>

Press Ctrl+C to disconnect.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := resolveGameID(args)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return watchGame(ctx, gameID, interactive)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Send mutations typed on stdin")

	return cmd
}

func watchGame(ctx context.Context, gameID string, interactive bool) error {
	u, err := client.WebSocketURL("/api/v1/games/" + gameID + "/ws")
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, client.AuthHeader())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	if interactive {
		go sendMutations(conn)
	}

	out := NewOutput(cfg.Output)
	if cfg.Output != "json" {
		fmt.Printf("Watching game %s\n", gameID)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if cfg.Output != "json" {
					fmt.Println("Disconnected")
				}
				return nil
			}
			return fmt.Errorf("stream error: %w", err)
		}
		handleWatchMessage(out, data)
	}
}

// handleWatchMessage prints a stream event or a reply to one of our mutations
func handleWatchMessage(out *Output, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}

	switch head.Type {
	case ws.MessageResult, ws.MessageError:
		var reply ws.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			return
		}
		if reply.Error != nil {
			out.PrintError(errors.New(reply.Error.Message + " (" + reply.Error.Code + ")"))
			return
		}
		if reply.Result != nil {
			out.Print(*reply.Result)
		}
	case response.EventTransition:
		var ev response.StreamEvent
		if err := json.Unmarshal(data, &ev); err == nil {
			out.PrintEvent(time.Now(), ev)
		}
	case response.EventChange:
		if cfg.Verbose {
			var ev response.StreamEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				out.PrintEvent(time.Now(), ev)
			}
		}
	}
}

func sendMutations(conn *websocket.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	n := 0
	for scanner.Scan() {
		msg, err := parseCommandLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			continue
		}
		if msg == nil {
			continue
		}
		n++
		msg.ID = strconv.Itoa(n)
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// parseCommandLine turns "answer 2" or "reveal" into a client message.
// Blank lines yield nil.
func parseCommandLine(line string) (*ws.ClientMessage, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	kind := model.MutationKind(strings.ReplaceAll(fields[0], "-", "_"))
	msg := &ws.ClientMessage{Type: string(kind)}
	if kind != model.MutationSubmitAnswer {
		if _, err := model.ParseMutation(kind, -1); err != nil {
			return nil, fmt.Errorf("unknown command %q", fields[0])
		}
		return msg, nil
	}

	if len(fields) != 2 {
		return nil, fmt.Errorf("usage: answer <choice>")
	}
	choice, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid choice: %s", fields[1])
	}
	msg.Choice = &choice
	return msg, nil
}
