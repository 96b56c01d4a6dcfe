package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zkforge/zkforge/internal/service"
)

// ProveOptions holds flags for the prove command.
type ProveOptions struct {
	*RootOptions
	TaskID string
	Inputs []string
	UseGPU bool
	Wait   bool
	Poll   time.Duration
}

// NewProveCommand creates the prove command.
func NewProveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prove <app-id>",
		Short: "Submit a proving task",
		Long: `Submit a proving task for a registered app.

Inputs are hex strings. Submission is idempotent: resubmitting the same
app and inputs returns the existing task id.

Example:
  zkforge prove --input deadbeef --input cafe <app-id>
  zkforge prove --gpu --wait <app-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TaskID, "task-id", "", "explicit task id (derived from inputs when empty)")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "hex input (repeatable, order matters)")
	cmd.Flags().BoolVar(&opts.UseGPU, "gpu", false, "route proving to the gpu backend")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "poll until the task is terminal")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 500*time.Millisecond, "poll interval with --wait")

	return cmd
}

func runProve(opts *ProveOptions, appID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	client := NewClient(opts.Addr)

	resp, err := client.ProveTask(service.ProveTaskRequest{
		AppID:  appID,
		TaskID: opts.TaskID,
		Inputs: opts.Inputs,
		UseGPU: opts.UseGPU,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "prove failed", err)
	}
	if resp.Err != nil {
		formatter.Error(resp.Err.Code, resp.Err.Message, nil)
		return NewExitError(ExitFailure, "submission rejected")
	}
	formatter.VerboseLog("task %s (created: %v)", resp.TaskID, resp.Created)

	if !opts.Wait {
		if opts.Format == "json" {
			return formatter.Success(resp)
		}
		return formatter.Success(fmt.Sprintf("task_id: %s (created: %v)", resp.TaskID, resp.Created))
	}

	return pollResult(client, formatter, appID, resp.TaskID, opts.Poll)
}

// pollResult polls until the task is terminal, then prints the result.
// Shared with the status command's --wait flag.
func pollResult(client *Client, formatter *OutputFormatter, appID, taskID string, interval time.Duration) error {
	for {
		result, err := client.ProvingResult(service.ProvingResultRequest{AppID: appID, TaskID: taskID})
		if err != nil {
			return WrapExitError(ExitCommandError, "poll failed", err)
		}
		if result.Err != nil && result.State == "" {
			// The task itself is unknown, not merely failed.
			formatter.Error(result.Err.Code, result.Err.Message, nil)
			return NewExitError(ExitFailure, "poll rejected")
		}

		switch result.State {
		case "completed":
			return printResult(formatter, result)
		case "failed":
			printResult(formatter, result)
			return NewExitError(ExitFailure, "task failed")
		}

		formatter.VerboseLog("state %s (%d/%d chunks)", result.State, result.ChunksDone, result.ChunksTotal)
		time.Sleep(interval)
	}
}

func printResult(formatter *OutputFormatter, result service.ProvingResultResponse) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	if result.State == "failed" {
		return formatter.Error(result.Err.Code, result.Err.Message, nil)
	}
	return formatter.Success(fmt.Sprintf(
		"task %s %s: %d cycles, %d chunks, pv_digest %s, proof %d bytes",
		result.TaskID, result.State, result.Cycles, result.ChunksTotal,
		result.PVDigest, len(result.Proof)/2,
	))
}
