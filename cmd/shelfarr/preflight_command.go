package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelfarr/internal/daemon"
	"shelfarr/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, download clients, and the library server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				results := preflight.RunAll(cmd.Context(), rt.Config, rt.Registry, libraryPinger(rt))
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, result := range results {
					kind := statusOK
					if !result.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d preflight check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}

// libraryPinger returns the runtime's library client when it can be pinged.
func libraryPinger(rt *daemon.Runtime) preflight.Pinger {
	if rt.Library == nil {
		return nil
	}
	pinger, _ := rt.Library.(preflight.Pinger)
	return pinger
}
