package main

import (
	"errors"

	"github.com/charmbracelet/huh"

	"github.com/antler-hat/devolume/pkg/lib"
)

var errAborted = errors.New("aborted")

// prompter decides what the eject command does at each workflow stop.
type prompter interface {
	selectVolumes(volumes []lib.Volume) ([]lib.Volume, error)
	// selectBlockers returns the processes to end and whether to save them
	// as rules. An empty selection leaves the volumes busy.
	selectBlockers(rows []lib.VolumeProcessInfo) ([]lib.ProcessInfo, bool, error)
}

// huhPrompter asks on the terminal. Every option starts selected.
type huhPrompter struct {
	saveRules bool
}

func (p *huhPrompter) selectVolumes(volumes []lib.Volume) ([]lib.Volume, error) {
	options := make([]huh.Option[lib.Volume], len(volumes))
	for i, v := range volumes {
		options[i] = huh.NewOption(v.Name+"  "+v.Path, v).Selected(true)
	}

	var selected []lib.Volume
	err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[lib.Volume]().
			Title("Select the drives to eject:").
			Options(options...).
			Value(&selected),
	)).Run()
	if err != nil {
		return nil, promptError(err)
	}
	return selected, nil
}

func (p *huhPrompter) selectBlockers(rows []lib.VolumeProcessInfo) ([]lib.ProcessInfo, bool, error) {
	options := make([]huh.Option[int], len(rows))
	for i, row := range rows {
		options[i] = huh.NewOption(blockerLabel(row), i).Selected(true)
	}

	var picked []int
	save := p.saveRules
	fields := []huh.Field{
		huh.NewMultiSelect[int]().
			Title("Processes are preventing ejection. Select the ones to end:").
			Options(options...).
			Value(&picked),
	}
	if !p.saveRules {
		fields = append(fields, huh.NewConfirm().
			Title("Always end the selected processes automatically?").
			Affirmative("Save as rules").
			Negative("Just this once").
			Value(&save))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, false, promptError(err)
	}

	processes := make([]lib.ProcessInfo, 0, len(picked))
	for _, i := range picked {
		processes = append(processes, rows[i].Process)
	}
	return processes, save, nil
}

func promptError(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	return err
}

// autoPrompter answers without a terminal. Volumes are always all taken.
// Blockers are ended only when allowed by the flags, and a process is never
// picked twice so a blocker that survives termination stops the loop.
type autoPrompter struct {
	endAll    bool
	safeOnly  bool
	saveRules bool
	ended     map[int]struct{}
}

func (p *autoPrompter) selectVolumes(volumes []lib.Volume) ([]lib.Volume, error) {
	return volumes, nil
}

func (p *autoPrompter) selectBlockers(rows []lib.VolumeProcessInfo) ([]lib.ProcessInfo, bool, error) {
	if !p.endAll && !p.safeOnly {
		return nil, false, nil
	}
	if p.ended == nil {
		p.ended = make(map[int]struct{})
	}
	var processes []lib.ProcessInfo
	for _, row := range rows {
		if p.safeOnly && row.Safety != lib.SafetySafe {
			continue
		}
		if _, done := p.ended[row.Process.PID]; done {
			continue
		}
		p.ended[row.Process.PID] = struct{}{}
		processes = append(processes, row.Process)
	}
	return processes, p.saveRules, nil
}
