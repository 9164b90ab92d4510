package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shelfarr/internal/daemon"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

func newRequestCommand(ctx *commandContext) *cobra.Command {
	requestCmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"requests"},
		Short:   "Create and manage audiobook requests",
	}

	requestCmd.AddCommand(newRequestAddCommand(ctx))
	requestCmd.AddCommand(newRequestAcquireCommand(ctx))
	requestCmd.AddCommand(newRequestListCommand(ctx))
	requestCmd.AddCommand(newRequestShowCommand(ctx))
	requestCmd.AddCommand(newRequestRetryCommand(ctx))
	requestCmd.AddCommand(newRequestDenyCommand(ctx))

	return requestCmd
}

func newRequestAddCommand(ctx *commandContext) *cobra.Command {
	var req store.NewRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a pending request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Title) == "" {
				return errors.New("--title is required")
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				created, err := rt.Store.CreateRequest(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created request %d: %s\n", created.ID, describeBook(created))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Book title")
	cmd.Flags().StringVar(&req.Author, "author", "", "Book author")
	cmd.Flags().StringVar(&req.Narrator, "narrator", "", "Narrator")
	cmd.Flags().StringVar(&req.ASIN, "asin", "", "Audible ASIN")
	cmd.Flags().IntVar(&req.Year, "year", 0, "Publication year")
	cmd.Flags().StringVar(&req.Series, "series", "", "Series name")
	cmd.Flags().StringVar(&req.SeriesPart, "series-part", "", "Position within the series")
	cmd.Flags().StringVar(&req.CoverURL, "cover-url", "", "Cover image URL")
	cmd.Flags().StringVar(&req.EbookURL, "ebook-url", "", "Companion e-book URL")
	return cmd
}

func newRequestAcquireCommand(ctx *commandContext) *cobra.Command {
	var (
		payload pipeline.AcquirePayload
		run     bool
	)
	cmd := &cobra.Command{
		Use:   "acquire <id>",
		Short: "Queue a download source for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			payload.RequestID = id
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				job, err := rt.Manager.Submit(cmd.Context(), workflow.Spec{
					Type:      pipeline.JobAcquire,
					Payload:   payload,
					RequestID: id,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued acquire job %s for request %d\n", job.ID, id)
				if !run {
					return nil
				}
				processed, err := rt.Manager.RunDue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Processed %d job(s)\n", processed)
				return printRequestSummary(cmd, rt, id)
			})
		},
	}
	cmd.Flags().StringVar(&payload.SourceURL, "url", "", "Magnet link, .torrent or .nzb URL")
	cmd.Flags().StringVar(&payload.SourceTitle, "source-title", "", "Release name reported by the indexer")
	cmd.Flags().StringVar(&payload.Indexer, "indexer", "", "Indexer or tracker name (selects seeding rules)")
	cmd.Flags().StringVar(&payload.ClientID, "client", "", "Download client id (defaults to the first client for the protocol)")
	cmd.Flags().StringVar(&payload.Protocol, "protocol", "", "torrent or usenet (inferred from the URL when empty)")
	cmd.Flags().StringVar(&payload.Category, "category", "", "Override the client category")
	cmd.Flags().Int64Var(&payload.SizeBytes, "size", 0, "Release size in bytes")
	cmd.Flags().IntVar(&payload.Seeders, "seeders", 0, "Seeders reported by the indexer")
	cmd.Flags().IntVar(&payload.Leechers, "leechers", 0, "Leechers reported by the indexer")
	cmd.Flags().BoolVar(&run, "run", false, "Process due jobs in this process instead of waiting for the daemon")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newRequestListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				requests, err := rt.Store.ListRequests(cmd.Context(), filters...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, requestViews(requests))
				}
				if len(requests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No requests")
					return nil
				}
				rows := make([][]string, 0, len(requests))
				for _, req := range requests {
					rows = append(rows, []string{
						strconv.FormatInt(req.ID, 10),
						describeBook(req),
						string(req.Status),
						fmt.Sprintf("%.0f%%", req.Progress),
						req.UpdatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Book", "Status", "Progress", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newRequestShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request with its download history and jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				if err := printRequestSummary(cmd, rt, id); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				history, err := rt.Store.ListHistory(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(history) > 0 {
					fmt.Fprintln(out)
					rows := make([][]string, 0, len(history))
					for _, h := range history {
						rows = append(rows, []string{
							strconv.FormatInt(h.ID, 10),
							h.ClientID,
							h.DownloadClientID,
							h.IndexerName,
							h.Status,
							yesNo(h.Selected),
							truncate(h.ErrorMessage, 60),
						})
					}
					fmt.Fprint(out, renderTable(
						[]string{"History", "Client", "Download", "Indexer", "Status", "Selected", "Error"},
						rows,
						[]columnAlignment{alignRight},
					))
				}
				jobs, err := rt.Store.ListJobs(cmd.Context(), store.JobFilter{RequestID: id, Limit: 20})
				if err != nil {
					return err
				}
				if len(jobs) > 0 {
					fmt.Fprintln(out)
					fmt.Fprint(out, renderJobTable(jobs))
				}
				return nil
			})
		},
	}
}

func newRequestRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed request back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				if err := rt.Store.RetryRequest(cmd.Context(), id); err != nil {
					return describeTransitionError(id, "retry", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d is pending again\n", id)
				return nil
			})
		},
	}
}

func newRequestDenyCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a request and cancel its pending jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				if err := rt.Store.DenyRequest(cmd.Context(), id, reason); err != nil {
					return describeTransitionError(id, "deny", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d denied\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the request")
	return cmd
}

func printRequestSummary(cmd *cobra.Command, rt *daemon.Runtime, id int64) error {
	req, err := rt.Store.GetRequest(cmd.Context(), id)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("request %d not found", id)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader(fmt.Sprintf("Request %d", req.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Book", statusInfo, describeBook(req), colorize))
	fmt.Fprintln(out, renderStatusLine("Status", requestStatusKind(req.Status), string(req.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.1f%%", req.Progress), colorize))
	if req.StatusNote != "" {
		fmt.Fprintln(out, renderStatusLine("Note", statusInfo, req.StatusNote, colorize))
	}
	if req.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, req.ErrorMessage, colorize))
	}
	if req.TargetPath != "" {
		fmt.Fprintln(out, renderStatusLine("Library path", statusInfo, req.TargetPath, colorize))
	}
	if req.LibraryItemID != "" {
		fmt.Fprintln(out, renderStatusLine("Library item", statusOK, req.LibraryItemID, colorize))
	}
	return nil
}

func requestStatusKind(status store.Status) statusKind {
	switch status {
	case store.StatusAvailable, store.StatusCompleted, store.StatusDownloaded:
		return statusOK
	case store.StatusFailed:
		return statusError
	case store.StatusDenied:
		return statusWarn
	default:
		return statusInfo
	}
}

type requestView struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author,omitempty"`
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	StatusNote    string  `json:"status_note,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	TargetPath    string  `json:"target_path,omitempty"`
	LibraryItemID string  `json:"library_item_id,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

func requestViews(requests []*store.Request) []requestView {
	views := make([]requestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, requestView{
			ID:            req.ID,
			Title:         req.Title,
			Author:        req.Author,
			Status:        string(req.Status),
			Progress:      req.Progress,
			StatusNote:    req.StatusNote,
			ErrorMessage:  req.ErrorMessage,
			TargetPath:    req.TargetPath,
			LibraryItemID: req.LibraryItemID,
			UpdatedAt:     req.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return views
}

func describeBook(req *store.Request) string {
	if strings.TrimSpace(req.Author) == "" {
		return req.Title
	}
	return req.Title + " by " + req.Author
}

func describeTransitionError(id int64, action string, err error) error {
	switch {
	case errors.Is(err, store.ErrRequestNotFound):
		return fmt.Errorf("request %d not found", id)
	case errors.Is(err, store.ErrTransitionRejected):
		return fmt.Errorf("cannot %s request %d in its current status", action, id)
	default:
		return err
	}
}

func parseRequestID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", raw)
	}
	return id, nil
}

func parseStatuses(values []string) ([]store.Status, error) {
	var out []store.Status
	for _, value := range values {
		status, ok := store.ParseStatus(strings.ToLower(strings.TrimSpace(value)))
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
