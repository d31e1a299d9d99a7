package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dublaj/internal/store"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and decide review tasks",
	}

	reviewCmd.AddCommand(newReviewListCommand(ctx))
	reviewCmd.AddCommand(newReviewShowCommand(ctx))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx, "approve", "Approve a review task", func(app *application) decisionFunc {
		return app.review.Approve
	}))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx, "reject", "Reject a review task and discard the artifact", func(app *application) decisionFunc {
		return app.review.Reject
	}))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx, "request-changes", "Send a task back with reviewer feedback", func(app *application) decisionFunc {
		return app.review.RequestChanges
	}))

	return reviewCmd
}

func newReviewListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review tasks awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				statuses := []store.ReviewStatus{store.ReviewPending, store.ReviewInReview}
				if all {
					statuses = nil
				}
				tasks, err := app.store.ListReviewTasks(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No open review tasks")
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						fmt.Sprintf("%d", task.ID),
						fmt.Sprintf("%d", task.EpisodeID),
						task.Stage,
						string(task.Status),
						task.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Task", "Episode", "Stage", "Status", "Created"},
					rows, 0, 1,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include decided tasks")
	return cmd
}

func newReviewShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task>",
		Short: "Show one review task with its artifacts and decision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(func(app *application) error {
				task, err := app.store.ReviewTaskByID(cmd.Context(), taskID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task %d (%s) on episode %d: %s\n", task.ID, task.Stage, task.EpisodeID, task.Status)
				for _, path := range task.ArtifactPaths {
					fmt.Fprintf(out, "  artifact: %s\n", path)
				}
				if task.DiffPath != "" {
					fmt.Fprintf(out, "  diff:     %s\n", task.DiffPath)
				}
				if task.Notes != "" {
					fmt.Fprintf(out, "  notes:    %s\n", task.Notes)
				}

				decisions, err := app.store.DecisionsForTask(cmd.Context(), task.ID)
				if err != nil {
					return err
				}
				for _, decision := range decisions {
					line := fmt.Sprintf("  %s %s", decision.DecidedAt.Local().Format(time.DateTime), decision.Decision)
					if decision.Notes != "" {
						line += ": " + decision.Notes
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

type decisionFunc func(ctx context.Context, episode *store.Episode, taskID int64, notes string) (*store.ReviewDecision, error)

func newReviewDecideCommand(ctx *commandContext, use, short string, pick func(*application) decisionFunc) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   use + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if use == "request-changes" && strings.TrimSpace(notes) == "" {
				return fmt.Errorf("request-changes needs --notes describing the requested change")
			}
			return ctx.withApp(func(app *application) error {
				task, err := app.store.ReviewTaskByID(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				episode, err := app.store.EpisodeByID(cmd.Context(), task.EpisodeID)
				if err != nil {
					return err
				}
				if episode == nil {
					return fmt.Errorf("episode %d not found", task.EpisodeID)
				}

				decision, err := pick(app)(cmd.Context(), episode, taskID, notes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task %d: %s (episode %s at %s)\n", taskID, decision.Decision, episode.ExternalID, episode.Status)
				fmt.Fprintln(out, "Run `dublaj run` on the episode to resume the pipeline")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&notes, "notes", "n", "", "Reviewer notes recorded with the decision")
	return cmd
}

func parseTaskID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", value)
	}
	return id, nil
}
