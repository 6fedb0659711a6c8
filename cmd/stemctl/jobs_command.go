package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List render jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := jobFilter(state, limit)
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			jobs, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintf(out, "No %s render jobs\n", state)
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				errMsg := ""
				if j.Error != nil {
					errMsg = *j.Error
				}
				rows = append(rows, []string{
					j.ID,
					j.TrackID,
					j.ProjectName,
					string(j.Status),
					strconv.Itoa(j.Attempts),
					humanize.Time(j.UpdatedAt),
					errMsg,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Track", "Project", "Status", "Attempts", "Updated", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "active", "Job state to list: active or finished")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum finished jobs to list")
	return cmd
}

func jobFilter(state string, limit int) (store.ListFilter, error) {
	filter, ok := store.StateFilter(state, limit)
	if !ok {
		return store.ListFilter{}, fmt.Errorf("unknown state %q (want %s or %s)", state, model.RenderStateActive, model.RenderStateFinished)
	}
	return filter, nil
}
