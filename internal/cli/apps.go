package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAppsCommand creates the apps command.
func NewAppsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List registered programs",
		Long: `List every registered program with its app id and program digest.

Example:
  zkforge apps
  zkforge apps --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApps(rootOpts, cmd)
		},
	}
}

func runApps(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	resp, err := NewClient(opts.Addr).ListApps()
	if err != nil {
		return WrapExitError(ExitCommandError, "list apps failed", err)
	}
	if resp.Err != nil {
		formatter.Error(resp.Err.Code, resp.Err.Message, nil)
		return NewExitError(ExitFailure, "list apps rejected")
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	if len(resp.Apps) == 0 {
		return formatter.Success("no registered apps")
	}
	for _, app := range resp.Apps {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", app.AppID, app.Name, app.CreatedAt)
	}
	return nil
}
