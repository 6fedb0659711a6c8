package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trackfeedback/api/internal/descriptor"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/stem"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "Parse a project bundle and print its tracks, samples and warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			b, err := ingest.NewLoader(cfg.Ingest.Limits(), logger).LoadFile(cmd.Context(), args[0], false)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			defer b.Close()

			printBundle(cmd.OutOrStdout(), b)
			return nil
		},
	}
}

func printBundle(out io.Writer, b *ingest.Bundle) {
	p := b.Project
	fmt.Fprintf(out, "Project:   %s\n", b.ProjectName)
	fmt.Fprintf(out, "Creator:   %s\n", p.CreatorVersion)
	fmt.Fprintf(out, "Tempo:     %s BPM  %s\n", strconv.FormatFloat(p.Tempo, 'f', -1, 64), p.TimeSignature)
	if d := p.DurationSeconds(); d > 0 {
		fmt.Fprintf(out, "Length:    %s beats (%.1fs)\n", strconv.FormatFloat(p.LengthBeats, 'f', -1, 64), d)
	}
	if plugins := p.Plugins(); len(plugins) > 0 {
		fmt.Fprintf(out, "Plugins:   %s\n", strings.Join(plugins, ", "))
	}
	fmt.Fprintln(out)

	trackRows := make([][]string, 0, len(b.Tracks))
	for i, rt := range b.Tracks {
		trackRows = append(trackRows, []string{
			strconv.Itoa(i + 1),
			rt.Track.Name,
			string(rt.Track.Kind),
			stem.Classify(rt.Track.Name).String(),
			descriptor.ColorHex(rt.Track.Color),
			strconv.Itoa(len(rt.Samples)),
			trackFlags(rt.Track),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Track", "Kind", "Stem", "Color", "Samples", "Flags"},
		trackRows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	samples := b.Samples()
	if len(samples) > 0 {
		rows := make([][]string, 0, len(samples))
		for _, s := range samples {
			format := "-"
			if s.Handle != nil {
				format = s.Handle.Format
			}
			rows = append(rows, []string{
				s.DisplayName,
				s.ArchivePath,
				humanize.IBytes(uint64(s.Size)),
				format,
				strconv.FormatBool(s.Loaded),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Sample", "Path", "Size", "Format", "Loaded"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}
	limits := b.Limits()
	fmt.Fprintf(out, "Loaded %s of %s budget\n", humanize.IBytes(uint64(b.Total())), humanize.IBytes(uint64(limits.MemoryBudget)))

	if len(b.Warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range b.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}
}

func trackFlags(t descriptor.Track) string {
	var flags []string
	if t.Muted {
		flags = append(flags, "muted")
	}
	if t.Solo {
		flags = append(flags, "solo")
	}
	return strings.Join(flags, ",")
}
