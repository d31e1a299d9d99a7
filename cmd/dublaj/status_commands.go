package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dublaj/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show episode counts per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				stats, err := app.orchestrator.Status(cmd.Context())
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(stats))
				for _, status := range store.AllEpisodeStatuses() {
					count, ok := stats[status]
					if !ok {
						continue
					}
					rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No episodes yet")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					rows, 1,
				))
				return nil
			})
		},
	}
}

func newEpisodesCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []store.EpisodeStatus
			for _, value := range statusFilters {
				status, ok := store.ParseEpisodeStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}

			return ctx.withApp(func(app *application) error {
				episodes, err := app.store.ListEpisodes(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(episodes) == 0 {
					fmt.Fprintln(out, "No episodes")
					return nil
				}

				openTasks, err := app.store.ListReviewTasks(cmd.Context(), store.ReviewPending, store.ReviewInReview)
				if err != nil {
					return err
				}
				reviewStage := make(map[int64]string, len(openTasks))
				for _, task := range openTasks {
					reviewStage[task.EpisodeID] = task.Stage
				}

				rows := make([][]string, 0, len(episodes))
				for _, episode := range episodes {
					rows = append(rows, []string{
						fmt.Sprintf("%d", episode.ID),
						episode.ExternalID,
						episode.Title,
						string(episode.Status),
						reviewStage[episode.ID],
						fmt.Sprintf("v%d", episode.PipelineVersion),
						episode.DetectedAt.Local().Format(time.DateOnly),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "External ID", "Title", "Status", "In Review", "Plan", "Detected"},
					rows, 0,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by episode status (repeatable)")
	return cmd
}

func newCostCommand(ctx *commandContext) *cobra.Command {
	var episodeRef string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show accumulated cost per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				var episodeID *int64
				if episodeRef != "" {
					episode, err := resolveEpisode(cmd.Context(), app.store, episodeRef)
					if err != nil {
						return err
					}
					episodeID = &episode.ID
				}

				costs, err := app.orchestrator.CostReport(cmd.Context(), episodeID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(costs) == 0 {
					fmt.Fprintln(out, "No recorded costs")
					return nil
				}

				var total float64
				rows := make([][]string, 0, len(costs))
				for _, cost := range costs {
					total += cost.CostUSD
					rows = append(rows, []string{
						cost.Stage,
						fmt.Sprintf("%d", cost.Runs),
						fmt.Sprintf("$%.4f", cost.CostUSD),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Runs", "Cost"},
					rows, 1, 2,
				))
				fmt.Fprintf(out, "Total: $%.4f\n", total)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&episodeRef, "episode", "e", "", "Limit to one episode (id or external id)")
	return cmd
}
