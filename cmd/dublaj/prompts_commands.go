package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dublaj/internal/prompts"
)

func newPromptsCommand(ctx *commandContext) *cobra.Command {
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage versioned prompt templates",
	}

	promptsCmd.AddCommand(newPromptsListCommand(ctx))
	promptsCmd.AddCommand(newPromptsRegisterCommand(ctx))
	promptsCmd.AddCommand(newPromptsPromoteCommand(ctx))
	promptsCmd.AddCommand(newPromptsHistoryCommand(ctx))
	promptsCmd.AddCommand(newPromptsWatchCommand(ctx))

	return promptsCmd
}

func newPromptsWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Register edited template bodies as new versions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				watcher, err := prompts.NewWatcher(app.prompts, app.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for template changes (ctrl-c to stop)\n", app.config.TemplatesDir())
				return watcher.Run(cmd.Context())
			})
		},
	}
}

func newPromptsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered prompt names with their default versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				names, err := app.store.PromptNames(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(out, "No prompts registered")
					return nil
				}

				rows := make([][]string, 0, len(names))
				for _, name := range names {
					pv, err := app.store.DefaultPromptVersion(cmd.Context(), name)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						name,
						fmt.Sprintf("v%d", pv.Version),
						pv.Model,
						shortHash(pv.ContentHash),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Name", "Default", "Model", "Hash"},
					rows, 1,
				))
				return nil
			})
		},
	}
}

func newPromptsRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>",
		Short: "Register the on-disk template body as a new version",
		Long: "Reads the named template from the prompt directory and registers its " +
			"current body as a new version. Registration never changes the default; " +
			"promote the version once it should take effect.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				pv, err := app.prompts.RegisterVersion(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Registered %s v%d (id %d, hash %s)\n", pv.Name, pv.Version, pv.ID, shortHash(pv.ContentHash))
				fmt.Fprintf(out, "Default: %s\n", yesNo(pv.IsDefault))
				return nil
			})
		},
	}
}

func newPromptsPromoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <version-id>",
		Short: "Make a registered version the default for its prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versionID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version id %q", args[0])
			}
			return ctx.withApp(func(app *application) error {
				if err := app.prompts.PromoteToDefault(cmd.Context(), versionID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version %d is now the default; affected stages re-run on the next pass\n", versionID)
				return nil
			})
		},
	}
}

func newPromptsHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "Show all registered versions of one prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *application) error {
				versions, err := app.prompts.GetHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(versions) == 0 {
					fmt.Fprintf(out, "No versions registered for %s\n", args[0])
					return nil
				}

				rows := make([][]string, 0, len(versions))
				for _, pv := range versions {
					rows = append(rows, []string{
						fmt.Sprintf("%d", pv.ID),
						fmt.Sprintf("v%d", pv.Version),
						shortHash(pv.ContentHash),
						yesNo(pv.IsDefault),
						pv.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Version", "Hash", "Default", "Registered"},
					rows, 0, 1,
				))
				return nil
			})
		},
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
