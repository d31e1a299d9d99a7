package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <episode>",
		Short: "Show one episode with its runs, artifacts, and publish jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				episode, err := resolveEpisode(cmd.Context(), app.store, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Episode %d  %s\n", episode.ID, episode.ExternalID)
				fmt.Fprintf(out, "  title:    %s\n", episode.Title)
				fmt.Fprintf(out, "  status:   %s (plan v%d, %d retries)\n", episode.Status, episode.PipelineVersion, episode.RetryCount)
				if episode.VideoID != "" {
					fmt.Fprintf(out, "  video:    %s\n", episode.VideoID)
				}
				if episode.ErrorMessage != "" {
					fmt.Fprintf(out, "  error:    %s\n", episode.ErrorMessage)
				}

				runs, err := app.store.RunsForEpisode(cmd.Context(), episode.ID)
				if err != nil {
					return err
				}
				if len(runs) > 0 {
					rows := make([][]string, 0, len(runs))
					for _, run := range runs {
						detail := run.ErrorMessage
						rows = append(rows, []string{
							run.Stage,
							string(run.Status),
							fmt.Sprintf("$%.4f", run.CostUSD),
							run.StartedAt.Local().Format(time.DateTime),
							detail,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Stage", "Outcome", "Cost", "Started", "Error"},
						rows, 2,
					))
				}

				recorded, err := app.store.ArtifactsForEpisode(cmd.Context(), episode.ID)
				if err != nil {
					return err
				}
				for _, artifact := range recorded {
					fmt.Fprintf(out, "  artifact %-22s %s\n", artifact.ArtifactType, artifact.Path)
				}

				jobs, err := app.store.PublishJobsForEpisode(cmd.Context(), episode.ID)
				if err != nil {
					return err
				}
				for _, job := range jobs {
					line := fmt.Sprintf("  publish %s: %s", job.Platform, job.Status)
					if job.VideoID != "" {
						line += " (" + job.VideoID + ")"
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}
