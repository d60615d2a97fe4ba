package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gl7cryo/gl7ctl/pkg/client"
	"github.com/gl7cryo/gl7ctl/pkg/events"
	"github.com/gl7cryo/gl7ctl/pkg/sequence"
)

// errRunFinished ends the event loop.
var errRunFinished = errors.New("run finished")

func NewCooldownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cooldown",
		Short:   "Run the GL7 cooldown sequence",
		GroupID: gCooldown,
		Long: `Run the GL7 cooldown sequence.

The sequence has seven stages: initial status, pre-cooling with heat switch
verification, pump heating, the two heat switch transitions, final
monitoring and final status. Steps that change heaters or switches wait for
the operator to confirm. Declining a step, or aborting, turns every heater
off.`,
	}

	cmd.AddCommand(
		newCooldownStartCommand(),
		newCooldownStatusCommand(),
		&cobra.Command{
			Use:   "confirm [yes|no]",
			Short: "Answer the pending operator prompt",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				ok, err := parseAnswer(args[0])
				if err != nil {
					return err
				}
				ret, err := apiClient.ConfirmCooldown(ok)
				if err != nil {
					return err
				}
				logrus.Infof("daemon responded: %s", ret)
				return nil
			},
		},
		newCooldownAbortCommand(),
	)

	return cmd
}

func newCooldownStartCommand() *cobra.Command {
	var (
		pump4, pump3 float64
		from         int
		only         bool
		detach       bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a cooldown and answer its prompts on this terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := client.CooldownRequest{From: sequence.StageID(from), Only: only}
			if cmd.Flags().Changed("pump4-level") {
				req.Pump4Level = &pump4
			}
			if cmd.Flags().Changed("pump3-level") {
				req.Pump3Level = &pump3
			}

			if detach {
				st, err := apiClient.StartCooldown(req)
				if err != nil {
					return fmt.Errorf("failed to start cooldown: %w", err)
				}
				logrus.WithField("run", st.ID).Infof("cooldown started at %s, answer prompts with \"gl7ctl cooldown confirm\"", st.StageName)
				return nil
			}

			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("prompts need a terminal, use --detach and answer with \"gl7ctl cooldown confirm\"")
			}

			return followCooldown(cmd, func() error {
				st, err := apiClient.StartCooldown(req)
				if err != nil {
					return fmt.Errorf("failed to start cooldown: %w", err)
				}
				logrus.WithField("run", st.ID).Infof("cooldown started at %s", st.StageName)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.Float64Var(&pump4, "pump4-level", 0, "4He pump heater level in percent (default from config)")
	f.Float64Var(&pump3, "pump3-level", 0, "3He pump heater level in percent (default from config)")
	f.IntVar(&from, "from", 1, "first stage to run (1-7)")
	f.BoolVar(&only, "only", false, "run the --from stage alone")
	f.BoolVar(&detach, "detach", false, "start and return without answering prompts")

	return cmd
}

func newCooldownStatusCommand() *cobra.Command {
	var (
		follow bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current or last cooldown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCooldown()
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					cmd.Println("no cooldown has been started")
					return nil
				}
				return err
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			printCooldown(cmd, st)

			if follow && !st.Stage.Terminal() {
				return followCooldown(cmd, nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow progress and answer prompts on this terminal")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newCooldownAbortCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the running cooldown and turn every heater off",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.AbortCooldown(reason)
			if err != nil {
				return fmt.Errorf("failed to abort cooldown: %w", err)
			}
			printCooldown(cmd, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the abort")

	return cmd
}

func parseAnswer(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true":
		return true, nil
	case "n", "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("answer yes or no, got %q", s)
}

func printCooldown(cmd *cobra.Command, st sequence.Status) {
	cmd.Println(bold("Cooldown %s:", st.ID))
	cmd.Printf("  Stage: %s (%d)\n", st.StageName, int(st.Stage))
	cmd.Printf("  Pump heaters: 4He %g%%, 3He %g%%\n", st.Params.Pump4Level, st.Params.Pump3Level)
	cmd.Printf("  Started: %s\n", st.StartedAt.Format(time.DateTime))
	if !st.FinishedAt.IsZero() {
		cmd.Printf("  Finished: %s\n", st.FinishedAt.Format(time.DateTime))
	}
	if st.Awaiting != "" {
		cmd.Println("  Waiting for: " + color.New(color.FgYellow).Sprint(st.Awaiting))
	}
	for _, h := range st.History {
		cmd.Printf("    %d %-45s %s\n", int(h.Stage), h.Name, outcomeText(h.Outcome))
		for _, n := range h.Notes {
			cmd.Printf("        %s\n", n)
		}
	}
	if st.Verdict != "" {
		cmd.Println("  Verdict: " + bold(st.Verdict))
	}
	if st.Aborted {
		cmd.Println("  " + color.New(color.Bold, color.FgRed).Sprint("Aborted: ") + st.AbortReason)
		if st.SafetyStop != nil {
			cmd.Println("  Heaters off: " + bool2Text(st.SafetyStop.OK))
		}
	}
}

func outcomeText(o sequence.Outcome) string {
	switch o {
	case sequence.OutcomeAdvancedWithoutConfirmation:
		return color.New(color.FgYellow).Sprint(o)
	case sequence.OutcomeAborted:
		return color.New(color.FgRed).Sprint(o)
	case "":
		return "running"
	}
	return color.New(color.FgGreen).Sprint(o)
}

// followCooldown prints progress and answers prompts until the run ends.
// start, if set, runs once the event stream is connected so no prompt is
// missed. Ctrl-C aborts the run.
func followCooldown(cmd *cobra.Command, start func() error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case <-sigc:
			logrus.Warn("interrupted, aborting cooldown")
			if _, err := apiClient.AbortCooldown("interrupted on the operator terminal"); err != nil {
				logrus.Errorf("failed to abort cooldown: %v", err)
			}
			cancel()
			// Unblock a pending prompt.
			_ = os.Stdin.Close()
		case <-ctx.Done():
		}
	}()

	in := bufio.NewReader(os.Stdin)
	ask := func(prompt string) error {
		for {
			cmd.Print(color.New(color.Bold, color.FgYellow).Sprint(prompt) + " [y/n] ")
			line, err := in.ReadString('\n')
			if err != nil {
				if ctx.Err() != nil {
					return errRunFinished
				}
				return fmt.Errorf("failed to read answer: %w", err)
			}
			ok, err := parseAnswer(line)
			if err != nil {
				cmd.Println(err)
				continue
			}
			if _, err := apiClient.ConfirmCooldown(ok); err != nil {
				return err
			}
			return nil
		}
	}

	err := apiClient.Events(ctx, func(ev events.Event) error {
		switch ev.Name {
		case "connected":
			if start != nil {
				return start()
			}
			// A prompt may already be pending when following.
			st, err := apiClient.GetCooldown()
			if err == nil && st.Awaiting != "" {
				return ask(st.Awaiting)
			}
		case events.StageStarted:
			e, err := events.DecodeAs[events.StageEvent](ev)
			if err != nil {
				return err
			}
			cmd.Println(bold("Stage %d: %s", e.Stage, e.Name))
		case events.Awaiting:
			e, err := events.DecodeAs[events.AwaitingEvent](ev)
			if err != nil {
				return err
			}
			if e.Prompt != "" {
				return ask(e.Prompt)
			}
		case events.StageFinished:
			e, err := events.DecodeAs[events.StageEvent](ev)
			if err != nil {
				return err
			}
			cmd.Printf("  -> %s, next %s\n", outcomeText(sequence.Outcome(e.Outcome)), e.Next)
			st, err := apiClient.GetCooldown()
			if err != nil {
				return err
			}
			if st.Stage.Terminal() || st.Params.Only {
				printCooldown(cmd, st)
				return errRunFinished
			}
		case events.RunAborted:
			e, err := events.DecodeAs[events.AbortEvent](ev)
			if err != nil {
				return err
			}
			cmd.Println(color.New(color.Bold, color.FgRed).Sprint("Cooldown aborted: ") + e.Reason)
			cmd.Println("  Heaters off: " + bool2Text(e.HeatersOK))
			return errRunFinished
		}
		return nil
	})
	if errors.Is(err, errRunFinished) {
		return nil
	}
	return err
}
