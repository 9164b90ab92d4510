package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"shelfarr/internal/daemon"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		payload pipeline.ScanPayload
		full    bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Match organized requests against the library now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if full {
				partial := false
				payload.Partial = &partial
			}
			return runOneShot(cmd, ctx, workflow.Spec{Type: pipeline.JobScan, Payload: payload, RequestID: payload.RequestID})
		},
	}
	cmd.Flags().Int64Var(&payload.RequestID, "request", 0, "Only reconcile this request")
	cmd.Flags().StringVar(&payload.Path, "path", "", "Only reconcile requests organized under this path")
	cmd.Flags().BoolVar(&full, "full", false, "Force a full library rescan before matching")
	return cmd
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove downloads that met their seeding requirement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, ctx, workflow.Spec{Type: pipeline.JobCleanup, Payload: pipeline.CleanupPayload{}})
		},
	}
}

// runOneShot submits spec, processes it in this process, and prints its result.
func runOneShot(cmd *cobra.Command, ctx *commandContext, spec workflow.Spec) error {
	return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
		job, err := rt.Manager.Submit(cmd.Context(), spec)
		if err != nil {
			return err
		}
		if _, err := rt.Manager.RunDue(cmd.Context()); err != nil {
			return err
		}
		stored, err := rt.Store.GetJob(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("job %s vanished", job.ID)
		}
		return printJobOutcome(cmd, stored)
	})
}

func printJobOutcome(cmd *cobra.Command, job *store.Job) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var result workflow.Result
	if job.ResultJSON != "" {
		_ = json.Unmarshal([]byte(job.ResultJSON), &result)
	}
	switch job.Status {
	case store.JobCompleted:
		fmt.Fprintln(out, renderStatusLine(job.Type, statusOK, result.Message, colorize))
	case store.JobFailed:
		fmt.Fprintln(out, renderStatusLine(job.Type, statusError, job.LastError, colorize))
	default:
		fmt.Fprintln(out, renderStatusLine(job.Type, statusWarn, fmt.Sprintf("job is %s: %s", job.Status, job.LastError), colorize))
	}
	for _, warning := range result.Warnings {
		fmt.Fprintln(out, renderStatusLine("warning", statusWarn, warning, colorize))
	}
	if job.Status == store.JobFailed {
		return fmt.Errorf("%s job failed", job.Type)
	}
	return nil
}
