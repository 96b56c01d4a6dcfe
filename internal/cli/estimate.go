package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zkforge/zkforge/internal/service"
)

// EstimateOptions holds flags for the estimate command.
type EstimateOptions struct {
	*RootOptions
	Inputs []string
}

// NewEstimateCommand creates the estimate command.
func NewEstimateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EstimateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "estimate <app-id>",
		Short: "Estimate the cost of proving a submission",
		Long: `Estimate the cost of proving a submission without creating a task.

Runs the program against the inputs without retaining a trace and
reports the exact cycle count, chunk count, and public values digest.

Example:
  zkforge estimate --input deadbeef <app-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "hex input (repeatable, order matters)")

	return cmd
}

func runEstimate(opts *EstimateOptions, appID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	resp, err := NewClient(opts.Addr).EstimateCost(service.EstimateCostRequest{
		AppID:  appID,
		Inputs: opts.Inputs,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "estimate failed", err)
	}
	if resp.Err != nil {
		formatter.Error(resp.Err.Code, resp.Err.Message, nil)
		return NewExitError(ExitFailure, "estimate rejected")
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	return formatter.Success(fmt.Sprintf(
		"cycles: %d, chunks: %d, cost: %d, pv_digest: %s",
		resp.Cycles, resp.Chunks, resp.Cost, resp.PVDigest,
	))
}
