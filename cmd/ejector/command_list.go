package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/antler-hat/devolume/pkg/lib"
)

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the volumes that can be ejected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			volumes := a.manager().EnumerateExternalVolumes(cmd.Context())
			if len(volumes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No external drives are mounted.")
				return nil
			}
			sort.SliceStable(volumes, func(i, j int) bool {
				return lib.CompareNames(volumes[i].Name, volumes[j].Name) < 0
			})
			printVolumes(cmd.OutOrStdout(), volumes)
			return nil
		},
	}
	return cmd
}
