package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rehabstage/internal/usecase"
)

var errNoSession = errors.New("no session in progress; run stagectl start first")

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the supported game types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, kind := range usecase.ExerciseKinds() {
				exercise, _ := usecase.LookupExercise(kind)
				fmt.Fprintf(out, "%s\t%s\t%s\n", targetStyle.Render(kind), exercise.Media, hintStyle.Render(exercise.PromptText))
			}
			return nil
		},
	}
}

func newLevelsCmd() *cobra.Command {
	var gameType string
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "List playable levels of a game type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			if gameType == "" {
				gameType = services.GameType()
			}
			levels, err := services.Client.ListLevels(cmd.Context(), gameType)
			if err != nil {
				return fmt.Errorf("failed to list levels: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(levels) == 0 {
				fmt.Fprintln(out, headerStyle.Render("No levels for "+gameType))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d level(s) for %s", len(levels), gameType)))
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tName\tSubtype\tDescription")
			for _, level := range levels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", level.ID, level.Name, level.Subtype, level.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&gameType, "type", "t", "", "Game type (defaults to the current one)")
	return cmd
}

func newStartCmd() *cobra.Command {
	var (
		gameType   string
		custom     bool
		difficulty string
	)
	cmd := &cobra.Command{
		Use:   "start <level-id>",
		Short: "Start a new session for a level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			if gameType == "" {
				gameType = services.GameType()
			}
			threshold, err := services.ResolveDifficulty(difficulty)
			if err != nil {
				return err
			}
			progress, err := services.StartLevel(cmd.Context(), args[0], gameType, custom, threshold)
			if err != nil {
				return err
			}
			stages, _ := services.Store.Load()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Session started"))
			fmt.Fprintln(out, field("session", progress.SessionID))
			fmt.Fprintln(out, field("stages", strconv.Itoa(len(stages))))
			fmt.Fprintln(out, field("difficulty", strconv.FormatFloat(progress.Difficulty, 'f', 2, 64)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&gameType, "type", "t", "", "Game type of the level")
	cmd.Flags().BoolVar(&custom, "custom", false, "Level is a custom level")
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "", "easy, normal, hard or a threshold in [0,1] (defaults to STAGE_DIFFICULTY)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			out := cmd.OutOrStdout()
			progress := services.Store.LoadProgress()
			if progress.SessionID == "" {
				fmt.Fprintln(out, hintStyle.Render("No session in progress"))
				return nil
			}

			stages, loadErr := services.Store.Load()
			levelID, _ := services.Store.Level()
			fmt.Fprintln(out, headerStyle.Render("Session "+progress.SessionID))
			fmt.Fprintln(out, field("game type", services.GameType()))
			fmt.Fprintln(out, field("level", levelID))
			fmt.Fprintln(out, field("difficulty", strconv.FormatFloat(progress.Difficulty, 'f', 2, 64)))
			if loadErr != nil {
				fmt.Fprintln(out, errorStyle.Render(loadErr.Error()))
			}

			index := stages.IndexOf(progress.CurrentStageNumber)
			switch {
			case services.Store.IsComplete(stages, progress):
				fmt.Fprintln(out, field("progress", fmt.Sprintf("complete (%d stages)", len(stages))))
			case index >= 0:
				fmt.Fprintln(out, field("progress", fmt.Sprintf("stage %d of %d", index+1, len(stages))))
				fmt.Fprintln(out, field("target", targetStyle.Render(stages[index].Target)))
			default:
				fmt.Fprintln(out, field("progress", fmt.Sprintf("stage %d (not in list)", progress.CurrentStageNumber)))
			}
			return nil
		},
	}
}

func newEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current session and clear it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			progress := services.Store.LoadProgress()
			if progress.SessionID == "" {
				return errNoSession
			}
			summary, err := services.Client.EndSession(cmd.Context(), progress.SessionID)
			if err != nil {
				return fmt.Errorf("failed to end session %s: %w", progress.SessionID, err)
			}
			if err := services.Store.Reset(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Session ended"))
			if summary.Message != "" {
				fmt.Fprintln(out, field("message", summary.Message))
			}
			fmt.Fprintln(out, field("score", strconv.Itoa(summary.Score)))
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted session without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Store.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hintStyle.Render("Session cleared"))
			return nil
		},
	}
}

func newPrefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefs",
		Short: "List the preference keys currently stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			keys, err := services.StoredKeys()
			if err != nil {
				return fmt.Errorf("failed to list preferences: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, hintStyle.Render("No preferences stored"))
				return nil
			}
			fmt.Fprintln(out, field("store", services.Config.Storage.DBPath))
			for _, key := range keys {
				fmt.Fprintln(out, "  "+key)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <bearer-token>",
		Short: "Store the API token used for requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := openServices(cmd, nil)
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Store.SetToken(strings.TrimSpace(args[0])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hintStyle.Render("Token saved"))
			return nil
		},
	}
}
