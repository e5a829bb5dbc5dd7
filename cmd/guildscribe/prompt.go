package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xaenox/guildscribe/internal/models"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage context system prompts",
	Long: `Context prompts are extra system instructions for every unit whose route
starts with the prompt's route. The longest matching route wins.

Examples:
  guildscribe prompt set 1160000000000000000/1170000000000000000 "This channel is the support desk."
  guildscribe prompt list`,
}

var promptSetCmd = &cobra.Command{
	Use:   "set <route> <text...>",
	Short: "Create or replace the prompt for a route",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		route := strings.Trim(args[0], "/")
		if route == "" {
			return fmt.Errorf("route must not be empty")
		}
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return fmt.Errorf("prompt text must not be empty")
		}

		store := openStore()
		defer store.Close()
		p := &models.ContextSystemPrompt{Route: route, Prompt: text}
		if err := store.SaveContextPrompt(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved prompt for %s\n", route)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openStore()
		defer store.Close()
		prompts, err := store.ListContextPrompts(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(prompts) == 0 {
			fmt.Fprintln(out, "no prompts stored")
			return nil
		}
		for _, p := range prompts {
			fmt.Fprintf(out, "%s\n    %s\n", p.Route, p.Prompt)
		}
		return nil
	},
}

func init() {
	promptCmd.AddCommand(promptSetCmd, promptListCmd)
}
