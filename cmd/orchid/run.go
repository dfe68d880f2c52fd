package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"orchid/internal/config"
	"orchid/internal/engine"
	"orchid/internal/engine/ports"
)

func newRunCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		agentID string
		orgID   string
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Execute one run and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			var listener *progressPrinter
			if !quiet {
				listener = newProgressPrinter(cmd.ErrOrStderr())
			}

			handle, err := rt.service.StartRun(cmd.Context(), ports.StartRequest{
				OrgID:   orgID,
				AgentID: agentID,
				Message: strings.Join(args, " "),
			}, listenerOrNil(listener))
			if err != nil {
				return err
			}

			result, err := awaitInterruptible(cmd.Context(), handle)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			if result.Failed {
				return fmt.Errorf("run %s did not complete: %s", result.RunID, result.StopReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent to run as")
	cmd.Flags().StringVarP(&orgID, "org", "o", "", "organization id")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

// awaitInterruptible waits for the run; the first interrupt cancels it and
// keeps waiting for the cancellation answer, a second one gives up.
func awaitInterruptible(ctx context.Context, handle *engine.RunHandle) (*ports.RunResult, error) {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	for {
		select {
		case result := <-awaited(ctx, handle):
			return result.value, result.err
		case <-interrupts:
			color.New(color.FgYellow).Fprintln(os.Stderr, "interrupted, cancelling run (interrupt again to abandon)")
			handle.Cancel()
			select {
			case result := <-awaited(ctx, handle):
				return result.value, result.err
			case <-interrupts:
				return nil, fmt.Errorf("abandoned while cancelling run %s", handle.RunID)
			case <-time.After(30 * time.Second):
				return nil, fmt.Errorf("run %s did not stop within 30s of cancellation", handle.RunID)
			}
		}
	}
}

type awaitOutcome struct {
	value *ports.RunResult
	err   error
}

func awaited(ctx context.Context, handle *engine.RunHandle) <-chan awaitOutcome {
	out := make(chan awaitOutcome, 1)
	go func() {
		value, err := handle.Await(ctx)
		out <- awaitOutcome{value: value, err: err}
	}()
	return out
}
