package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Game membership commands",
	}

	cmd.AddCommand(newGameCreateCmd())
	cmd.AddCommand(newGameJoinCmd())
	cmd.AddCommand(newGameLeaveCmd())
	cmd.AddCommand(newGameCurrentCmd())
	cmd.AddCommand(newGameGetCmd())
	cmd.AddCommand(newGameMeCmd())

	return cmd
}

func newGameCreateCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a game and become its host",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req any
			if mode != "" {
				if !model.ScoringMode(mode).Valid() {
					return fmt.Errorf("--scoring must be flat or timed")
				}
				req = map[string]string{"scoring_mode": mode}
			}

			var result response.Game
			if err := client.Post("/api/v1/games", req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "scoring", "", "Scoring mode: flat, timed (default: server setting)")

	return cmd
}

func newGameJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Join a game in its lobby by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Game
			if err := client.Post("/api/v1/games/join", map[string]string{"code": args[0]}, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newGameLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave your current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.LeaveResult
			if err := client.Post("/api/v1/games/leave", nil, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newGameCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the game you belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Game
			if err := client.Get("/api/v1/games/current", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newGameGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [game-id]",
		Short: "Show a game's question, members and leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := resolveGameID(args)
			if err != nil {
				return err
			}

			var result response.Snapshot
			if err := client.Get("/api/v1/games/"+gameID, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newGameMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me [game-id]",
		Short: "Show your own progress in a game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := resolveGameID(args)
			if err != nil {
				return err
			}

			var result response.PlayerState
			if err := client.Get("/api/v1/games/"+gameID+"/me", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Drive a game you host",
	}

	for _, m := range []struct {
		use   string
		kind  model.MutationKind
		short string
	}{
		{"start", model.MutationStartGame, "Start the quiz"},
		{"show-choices", model.MutationShowChoices, "Show the current question's choices now"},
		{"reveal", model.MutationRevealAnswer, "Reveal the current answer"},
		{"next", model.MutationNextQuestion, "Advance to the next question or the results"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   m.use + " [game-id]",
			Short: m.short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMutation(args, m.kind, nil)
			},
		})
	}

	return cmd
}

func newAnswerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer [game-id] <choice>",
		Short: "Answer the current question",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[len(args)-1]
			choice, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid choice: %s", raw)
			}
			return runMutation(args[:len(args)-1], model.MutationSubmitAnswer, &choice)
		},
	}
}

func runMutation(args []string, kind model.MutationKind, choice *int) error {
	gameID, err := resolveGameID(args)
	if err != nil {
		return err
	}

	req := map[string]any{"type": string(kind)}
	if choice != nil {
		req["choice"] = *choice
	}

	var result response.MutationResult
	if err := client.Post("/api/v1/games/"+gameID+"/mutations", req, &result); err != nil {
		return err
	}

	NewOutput(cfg.Output).Print(result)
	return nil
}

// resolveGameID returns the game named in args, or the caller's current game
func resolveGameID(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	var current response.Game
	if err := client.Get("/api/v1/games/current", &current); err != nil {
		return "", fmt.Errorf("no game given and no current game: %w", err)
	}
	return current.ID, nil
}
