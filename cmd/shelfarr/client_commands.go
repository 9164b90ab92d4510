package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shelfarr/internal/daemon"
	"shelfarr/internal/downloader"
)

func newClientCommand(ctx *commandContext) *cobra.Command {
	clientCmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"clients"},
		Short:   "Inspect configured download clients",
	}
	clientCmd.AddCommand(newClientListCommand(ctx))
	clientCmd.AddCommand(newClientTestCommand(ctx))
	clientCmd.AddCommand(newClientCategoriesCommand(ctx))
	return clientCmd
}

func newClientListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured download clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(cfg.DownloadClients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No download clients configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.DownloadClients))
			for _, client := range cfg.DownloadClients {
				rows = append(rows, []string{
					client.ID,
					client.Type,
					string(downloader.ProtocolForType(client.Type)),
					client.URL,
					client.Category,
					yesNo(!client.Disabled),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Protocol", "URL", "Category", "Enabled"},
				rows,
				nil,
			))
			return nil
		},
	}
}

func newClientTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test [id...]",
		Short: "Test connectivity to download clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				ids := args
				if len(ids) == 0 {
					for _, client := range rt.Registry.Configs() {
						if !client.Disabled {
							ids = append(ids, client.ID)
						}
					}
				}
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No enabled download clients configured")
					return nil
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				failures := 0
				for _, id := range ids {
					result := testClient(cmd.Context(), rt, id)
					kind := statusOK
					message := strings.TrimSpace(result.Message)
					if result.Success {
						if result.Version != "" {
							message = "version " + result.Version
						}
					} else {
						kind = statusError
						failures++
					}
					fmt.Fprintln(out, renderStatusLine(id, kind, message, colorize))
				}
				if failures > 0 {
					return fmt.Errorf("%d download client(s) unreachable", failures)
				}
				return nil
			})
		},
	}
}

func testClient(ctx context.Context, rt *daemon.Runtime, id string) downloader.ConnectionResult {
	client, err := rt.Registry.Get(id)
	if err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	return client.TestConnection(ctx)
}

func newClientCategoriesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "categories <id>",
		Short: "List the categories or labels a client knows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemon.Runtime) error {
				client, err := rt.Registry.Get(args[0])
				if err != nil {
					return err
				}
				categories, err := client.GetCategories(cmd.Context())
				if err != nil {
					return err
				}
				if len(categories) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No categories")
					return nil
				}
				for _, category := range categories {
					fmt.Fprintln(cmd.OutOrStdout(), category)
				}
				return nil
			})
		},
	}
}
