package main

import (
	"github.com/spf13/cobra"

	"github.com/antler-hat/devolume/pkg/lib/safety"
)

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <name>...",
		Short: "Show how safe it is to end processes by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printClassifications(cmd.OutOrStdout(), args, safety.Default())
			return nil
		},
	}
	return cmd
}
