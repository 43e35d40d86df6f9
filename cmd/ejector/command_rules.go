package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage processes that are ended automatically",
	}
	cmd.AddCommand(newRulesListCmd(a))
	cmd.AddCommand(newRulesAddCmd(a))
	cmd.AddCommand(newRulesRemoveCmd(a))
	return cmd
}

func newRulesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := a.openRules()
			if err != nil {
				return err
			}
			defer closer.Close()

			printRules(cmd.OutOrStdout(), store.AllRules())
			return nil
		},
	}
}

func newRulesAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>...",
		Short: "End the named processes automatically when they block an ejection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := a.openRules()
			if err != nil {
				return err
			}
			defer closer.Close()

			before := len(store.AllRules())
			if err := store.AddRule(args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d rule(s).\n", len(store.AllRules())-before)
			return nil
		},
	}
}

func newRulesRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <identifier>...",
		Short: "Remove saved rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := a.openRules()
			if err != nil {
				return err
			}
			defer closer.Close()

			removed := 0
			for _, name := range args {
				ok, err := store.RemoveRuleForProcess(name)
				if err != nil {
					return err
				}
				if ok {
					removed++
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "No rule for %q.\n", name)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rule(s).\n", removed)
			return nil
		},
	}
}
