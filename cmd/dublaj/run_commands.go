package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dublaj/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool
	var stageFilter []string

	cmd := &cobra.Command{
		Use:   "run <episode>",
		Short: "Run the pipeline for one episode until it completes or suspends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				episode, err := resolveEpisode(cmd.Context(), app.store, args[0])
				if err != nil {
					return err
				}
				report, err := app.orchestrator.RunEpisode(cmd.Context(), episode.ID, pipeline.Options{
					Force:  force,
					DryRun: dryRun,
					Stages: stageFilter,
				})
				if err != nil {
					return err
				}
				printReport(cmd, report)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-run stages even when their outputs are current")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan the pass without calling external services")
	cmd.Flags().StringSliceVar(&stageFilter, "stages", nil, "Limit the pass to the named stages (repeatable)")
	return cmd
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Run the pipeline for every actionable episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				reports, err := app.orchestrator.RunPending(cmd.Context(), pipeline.Options{DryRun: dryRun})
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No actionable episodes")
					return nil
				}
				for _, report := range reports {
					printReport(cmd, report)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan passes without calling external services")
	return cmd
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Poll the source feed and register new episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				created, err := app.detector.DetectNew(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(created) == 0 {
					fmt.Fprintln(out, "No new episodes")
					return nil
				}
				rows := make([][]string, 0, len(created))
				for _, episode := range created {
					rows = append(rows, []string{
						fmt.Sprintf("%d", episode.ID),
						episode.ExternalID,
						episode.Title,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "External ID", "Title"},
					rows, 0,
				))
				fmt.Fprintf(out, "Registered %d new episodes\n", len(created))
				return nil
			})
		},
	}
}

func printReport(cmd *cobra.Command, report *pipeline.Report) {
	out := cmd.OutOrStdout()
	if len(report.Entries) == 0 {
		fmt.Fprintf(out, "%s: nothing to do (status %s)\n", report.ExternalID, report.FinalStatus)
		return
	}

	rows := make([][]string, 0, len(report.Entries))
	for _, entry := range report.Entries {
		rows = append(rows, []string{
			entry.Stage,
			string(entry.Status),
			entry.Detail,
			fmt.Sprintf("$%.4f", entry.CostUSD),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Outcome", "Detail", "Cost"},
		rows, 3,
	))
	fmt.Fprintf(out, "%s: %s, $%.4f spent\n", report.ExternalID, report.FinalStatus, report.SpentUSD)
}
