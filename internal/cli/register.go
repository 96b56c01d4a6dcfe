package cli

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zkforge/zkforge/internal/service"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Name        string
	Description string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <program-file>",
		Short: "Register a program with the proving service",
		Long: `Register a program binary with the proving service.

The returned app id is derived from the program bytes and metadata, so
registering the same file twice yields the same id.

Example:
  zkforge register --name reth ./programs/reth.zkf`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "program name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "program description")

	return cmd
}

func runRegister(opts *RegisterOptions, programPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	program, err := os.ReadFile(programPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read program", err)
	}
	formatter.VerboseLog("read %d program bytes from %s", len(program), programPath)

	resp, err := NewClient(opts.Addr).RegisterApp(service.RegisterAppRequest{
		Program:     hex.EncodeToString(program),
		Name:        opts.Name,
		Description: opts.Description,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "register failed", err)
	}
	if resp.Err != nil {
		formatter.Error(resp.Err.Code, resp.Err.Message, nil)
		return NewExitError(ExitFailure, "registration rejected")
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	return formatter.Success(fmt.Sprintf("app_id: %s (created: %v)", resp.AppID, resp.Created))
}
