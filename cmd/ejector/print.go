package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/workflow"
)

const notesWidth = 56

var (
	badgeSafe    = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#066D16")).Background(lipgloss.Color("#BFF2C7"))
	badgeUnsafe  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#C50A00")).Background(lipgloss.Color("#F9D7D6"))
	badgeUnknown = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#363636")).Background(lipgloss.Color("#D5D5D5"))

	progressStyle = lipgloss.NewStyle().Faint(true)
	successStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#066D16"))
	warningStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C50A00"))
)

func safetyBadge(s lib.Safety) string {
	switch s {
	case lib.SafetySafe:
		return badgeSafe.Render(s.String())
	case lib.SafetyUnsafe:
		return badgeUnsafe.Render(s.String())
	default:
		return badgeUnknown.Render(s.String())
	}
}

func newTable(out io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printVolumes(out io.Writer, volumes []lib.Volume) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Name", "Path"})
	for _, v := range volumes {
		tw.AppendRow(table.Row{v.Name, v.Path})
	}
	tw.Render()
}

func printBlockers(out io.Writer, rows []lib.VolumeProcessInfo) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Volume", "Process", "PID", "Safety", "Notes"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, WidthMax: notesWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, row := range rows {
		tw.AppendRow(table.Row{
			row.Volume.Name,
			row.Process.Name,
			row.Process.PID,
			safetyBadge(row.Safety),
			descriptorNotes(row.Descriptor),
		})
	}
	tw.Render()
}

func printClassifications(out io.Writer, names []string, classifier workflow.Classifier) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Process", "Safety", "Category", "Notes"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: notesWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, name := range names {
		tier, descriptor := classifier.Classify(name)
		category := ""
		if descriptor != nil {
			category = descriptor.Category
		}
		tw.AppendRow(table.Row{name, safetyBadge(tier), category, descriptorNotes(descriptor)})
	}
	tw.Render()
}

func printRules(out io.Writer, rules []lib.ProcessRule) {
	if len(rules) == 0 {
		fmt.Fprintln(out, "No saved rules.")
		return
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Identifier", "Display name"})
	for _, r := range rules {
		tw.AppendRow(table.Row{r.Identifier, r.DisplayName})
	}
	tw.Render()
}

func printCompletion(out io.Writer, c workflow.Completion) {
	if c.Success() {
		fmt.Fprintln(out, successStyle.Render(c.Message))
		return
	}
	fmt.Fprintln(out, warningStyle.Render(c.Message))
}

func descriptorNotes(d *lib.ProcessDescriptor) string {
	if d == nil {
		return "No information about this process."
	}
	return d.Notes
}

func blockerLabel(row lib.VolumeProcessInfo) string {
	return row.Process.Name + " (" + strconv.Itoa(row.Process.PID) + ") on " + row.Volume.Name + "  " + row.Safety.String()
}
