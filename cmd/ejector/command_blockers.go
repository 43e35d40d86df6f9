package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/safety"
)

func newBlockersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockers <path>",
		Short: "Show the processes holding a mount path open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			v := lib.Volume{Name: filepath.Base(path), Path: path}

			processes := a.manager().FindProcessesUsingVolume(cmd.Context(), v)
			if len(processes) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing is using %s.\n", path)
				return nil
			}
			printBlockers(cmd.OutOrStdout(), classifyBlockers(safety.Default(), v, processes))
			return nil
		},
	}
	return cmd
}

func classifyBlockers(classifier *safety.Classifier, v lib.Volume, processes []lib.ProcessInfo) []lib.VolumeProcessInfo {
	rows := make([]lib.VolumeProcessInfo, 0, len(processes))
	for _, p := range processes {
		tier, descriptor := classifier.Classify(p.Name)
		rows = append(rows, lib.VolumeProcessInfo{Volume: v, Process: p, Safety: tier, Descriptor: descriptor})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := lib.CompareNames(rows[i].Process.Name, rows[j].Process.Name); c != 0 {
			return c < 0
		}
		return rows[i].Process.PID < rows[j].Process.PID
	})
	return rows
}
