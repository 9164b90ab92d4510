package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelfarr/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries the pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, status := range statuses {
				kind := statusOK
				message := status.Command
				if !status.Available {
					kind = statusError
					if status.Optional {
						kind = statusWarn
					}
					message = status.Detail
				}
				fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
			}
			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("required dependencies missing: %v", missing)
			}
			return nil
		},
	}
}
