package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shelfarr/internal/daemon"
	"shelfarr/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect persisted jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsStatusCommand(ctx))
	jobsCmd.AddCommand(newJobsRunCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses  []string
		jobType   string
		requestID int64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.JobFilter{Type: strings.TrimSpace(jobType), RequestID: requestID, Limit: limit}
			for _, value := range statuses {
				filter.Statuses = append(filter.Statuses, store.JobStatus(strings.ToLower(strings.TrimSpace(value))))
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				jobs, err := rt.Store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Filter by job type")
	cmd.Flags().Int64Var(&requestID, "request", 0, "Filter by request id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")
	return cmd
}

func newJobsStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				counts, err := rt.Store.JobCounts(cmd.Context())
				if err != nil {
					return err
				}
				if len(counts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				keys := make([]string, 0, len(counts))
				for status := range counts {
					keys = append(keys, string(status))
				}
				sort.Strings(keys)
				rows := make([][]string, 0, len(keys))
				for _, key := range keys {
					rows = append(rows, []string{key, strconv.Itoa(counts[store.JobStatus(key)])})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobsRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every due job once in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				processed, err := rt.Manager.RunDue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d job(s)\n", processed)
				return nil
			})
		},
	}
}

func renderJobTable(jobs []*store.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		request := ""
		if job.RequestID > 0 {
			request = strconv.FormatInt(job.RequestID, 10)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.Type,
			string(job.Status),
			request,
			fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			job.RunAt.Local().Format(time.DateTime),
			truncate(job.LastError, 50),
		})
	}
	return renderTable(
		[]string{"Job", "Type", "Status", "Request", "Attempts", "Run at", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
