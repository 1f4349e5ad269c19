package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"rehabstage/internal/domain"
	"rehabstage/internal/events"
	"rehabstage/internal/usecase"
)

const playHelp = "enter: record/stop  n: next  s: skip  c <value>: choose  q: quit"

func newPlayCmd() *cobra.Command {
	var gameType string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play the persisted session interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printer := &eventPrinter{out: cmd.OutOrStdout()}
			services, err := openServices(cmd, events.NewEmitter(printer.print))
			if err != nil {
				return err
			}
			defer services.Close()

			if gameType == "" {
				gameType = services.GameType()
			}
			controller, err := services.NewController(gameType)
			if err != nil {
				return err
			}
			defer func() {
				controller.Close()
				controller.Wait()
			}()

			progress, err := controller.Open(cmd.Context())
			if err != nil {
				return err
			}
			if progress.SessionID == "" {
				return errNoSession
			}
			if controller.Status().State == domain.SessionStateComplete {
				printer.line(headerStyle.Render("All stages complete"))
				return nil
			}
			printer.line(hintStyle.Render(playHelp))
			return playLoop(cmd, controller, printer)
		},
	}
	cmd.Flags().StringVarP(&gameType, "type", "t", "", "Game type (defaults to the current one)")
	return cmd
}

func playLoop(cmd *cobra.Command, controller *usecase.ExerciseController, printer *eventPrinter) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch {
		case line == "":
			if controller.Status().State == domain.SessionStateRecording {
				err = controller.StopCapture(ctx)
			} else {
				err = controller.StartCapture(ctx)
			}
		case line == "n":
			err = controller.Next(ctx)
		case line == "s":
			err = controller.Skip(ctx)
		case strings.HasPrefix(line, "c "):
			err = controller.SelectChoice(strings.TrimSpace(strings.TrimPrefix(line, "c ")))
		case line == "q":
			return nil
		default:
			printer.line(hintStyle.Render(playHelp))
		}

		if errors.Is(err, usecase.ErrSessionComplete) {
			return nil
		}
		if err != nil {
			printer.line(errorStyle.Render(err.Error()))
		}
	}
	return scanner.Err()
}

// eventPrinter renders controller events as terminal lines. Events arrive
// from timer and submission goroutines.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) line(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}

func (p *eventPrinter) print(event events.Event) {
	if text := formatEvent(event); text != "" {
		p.line(text)
	}
}

func formatEvent(event events.Event) string {
	switch event.Type {
	case events.TypeStage:
		if event.Stage == nil {
			return ""
		}
		text := fmt.Sprintf("%s %s", labelStyle.Render(fmt.Sprintf("stage %d:", event.Stage.Number)), targetStyle.Render(event.Stage.Target))
		for _, choice := range event.Stage.Choices {
			text += "\n  " + hintStyle.Render("c "+choice.Value) + " " + choice.Text
		}
		return text
	case events.TypeState:
		if event.State == domain.SessionStateRecording {
			return retryStyle.Render("● recording, press enter to stop")
		}
		if event.State == domain.SessionStateSubmitting {
			return hintStyle.Render("checking...")
		}
		return ""
	case events.TypeFeedback:
		if event.Feedback == nil || event.Feedback.Text == "" {
			return ""
		}
		if event.Feedback.Passed {
			return passStyle.Render(event.Feedback.Text)
		}
		return retryStyle.Render(event.Feedback.Text)
	case events.TypeSkip:
		return hintStyle.Render("skip available (s)")
	case events.TypeCompleted:
		return headerStyle.Render("All stages complete")
	case events.TypeEnded:
		if event.Summary == nil {
			return ""
		}
		return field("score", fmt.Sprint(event.Summary.Score))
	case events.TypeError:
		return errorStyle.Render(fmt.Sprintf("%s: %s", event.Code, event.Detail))
	default:
		return ""
	}
}
