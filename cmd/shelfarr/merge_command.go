package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shelfarr/internal/chapters"
	"shelfarr/internal/config"
	"shelfarr/internal/logging"
	"shelfarr/internal/tagger"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var (
		output string
		meta   tagger.Metadata
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "merge <directory>",
		Short: "Merge a folder of chapter files into one chaptered m4b",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			files, err := chapters.AudioFiles(dir)
			if err != nil {
				return err
			}
			if len(files) < 2 {
				return errors.New("merge needs at least two audio files")
			}

			target := strings.TrimSpace(output)
			if target == "" {
				name := strings.TrimSpace(meta.Title)
				if name == "" {
					name = filepath.Base(dir)
				}
				target = filepath.Join(dir, name+".m4b")
			} else if target, err = config.ExpandPath(target); err != nil {
				return err
			}

			logger, err := ctx.cliLogger(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			opts := []chapters.Option{}
			if !quiet {
				throttle := logging.NewProgressThrottle(10, 0)
				opts = append(opts, chapters.WithProgress(func(percent float64) {
					if throttle.ShouldEmit(percent) {
						fmt.Fprintf(out, "merging… %.0f%%\n", percent)
					}
				}))
			}
			merger := chapters.NewMerger(cfg.FFmpeg, logger, opts...)
			result, err := merger.Merge(cmd.Context(), files, target, meta)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(result.Chapters))
			for i, ch := range result.Chapters {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					ch.Title,
					formatOffset(ch.StartMs),
					formatOffset(ch.EndMs - ch.StartMs),
				})
			}
			fmt.Fprint(out, renderTable([]string{"#", "Chapter", "Start", "Length"}, rows, []columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
			mode := "re-encoded"
			if result.StreamCopy {
				mode = "stream copy"
			} else if result.BitrateKbps > 0 {
				mode = fmt.Sprintf("re-encoded at %d kbps", result.BitrateKbps)
			}
			fmt.Fprintf(out, "Wrote %s (%s, %s, order from %s)\n", result.OutputPath, result.Duration.Round(time.Second), mode, result.OrderSource)
			if !result.OrderConfident {
				fmt.Fprintln(out, "warning: track metadata and filenames disagree on order; verify the chapter list")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <directory>/<title>.m4b)")
	cmd.Flags().StringVar(&meta.Title, "title", "", "Book title tag")
	cmd.Flags().StringVar(&meta.Author, "author", "", "Author tag")
	cmd.Flags().StringVar(&meta.Narrator, "narrator", "", "Narrator tag")
	cmd.Flags().StringVar(&meta.Year, "year", "", "Year tag")
	cmd.Flags().StringVar(&meta.Series, "series", "", "Series tag")
	cmd.Flags().StringVar(&meta.SeriesPart, "series-part", "", "Series position tag")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func formatOffset(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
