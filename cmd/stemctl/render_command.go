package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/trackfeedback/api/internal/render"
	"github.com/trackfeedback/api/internal/tone"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "render <jobId>",
		Short: "Start a render job and run it to completion in this process",
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
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			blobs, err := ctx.blobStore(cmd.Context())
			if err != nil {
				return err
			}

			orch := render.NewOrchestrator(st, blobs, tone.NewEncoder(cfg.Render.ToneOptions()), render.Options{
				MaxTracks:      cfg.Render.MaxTracks,
				DefaultSeconds: cfg.Render.DefaultSeconds,
				SampleRate:     cfg.Render.SampleRate,
			}, logger)

			job, err := orch.Begin(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("start render %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			barOut := out
			if quiet {
				barOut = io.Discard
			}
			bar := progressbar.NewOptions(len(orch.Plan(job)),
				progressbar.OptionSetWriter(barOut),
				progressbar.OptionSetDescription("rendering "+job.ProjectName),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionClearOnFinish(),
			)

			stems, err := orch.Execute(cmd.Context(), job, func(p render.Progress) {
				bar.Describe(p.Stem.Label)
				_ = bar.Set(p.Completed)
			})
			_ = bar.Finish()
			if err != nil {
				return fmt.Errorf("render %s: %w", job.ID, err)
			}

			rows := make([][]string, 0, len(stems))
			for _, s := range stems {
				rows = append(rows, []string{strconv.Itoa(s.Order), s.Label, s.StemType.String(), s.URL})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Stem", "Type", "URL"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}
