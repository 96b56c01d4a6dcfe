package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zkforge/zkforge/internal/service"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Wait bool
	Poll time.Duration
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <app-id> <task-id>",
		Short: "Show a proving task's state and result",
		Long: `Show a proving task's state, progress, and result.

Task ids are scoped per app, so a task is addressed by the pair.
With --wait, polls until the task reaches a terminal state.

Example:
  zkforge status <app-id> <task-id>
  zkforge status --wait <app-id> <task-id>`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "poll until the task is terminal")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 500*time.Millisecond, "poll interval with --wait")

	return cmd
}

func runStatus(opts *StatusOptions, appID, taskID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	client := NewClient(opts.Addr)

	if opts.Wait {
		return pollResult(client, formatter, appID, taskID, opts.Poll)
	}

	result, err := client.ProvingResult(service.ProvingResultRequest{AppID: appID, TaskID: taskID})
	if err != nil {
		return WrapExitError(ExitCommandError, "status failed", err)
	}
	if result.Err != nil && result.State == "" {
		formatter.Error(result.Err.Code, result.Err.Message, nil)
		return NewExitError(ExitFailure, "status rejected")
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if result.State == "failed" {
		formatter.Error(result.Err.Code, result.Err.Message, nil)
		return NewExitError(ExitFailure, "task failed")
	}
	return formatter.Success(fmt.Sprintf(
		"task %s: %s (%d/%d chunks)",
		result.TaskID, result.State, result.ChunksDone, result.ChunksTotal,
	))
}
