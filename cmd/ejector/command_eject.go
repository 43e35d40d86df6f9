package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/workflow"
)

var errStillBusy = errors.New("volumes are still in use")

// statePresenter forwards outcomes to the command loop and prints progress.
type statePresenter struct {
	out    io.Writer
	states chan workflow.State
}

func newStatePresenter(out io.Writer) *statePresenter {
	return &statePresenter{out: out, states: make(chan workflow.State, 4)}
}

func (p *statePresenter) ShowOutcome(state workflow.State) {
	p.states <- state
}

func (p *statePresenter) ShowProgress(message string) {
	fmt.Fprintln(p.out, progressStyle.Render(message))
}

type ejectOptions struct {
	all       bool
	yes       bool
	saveRules bool
	killSafe  bool
}

func newEjectCmd(a *app) *cobra.Command {
	var opts ejectOptions

	cmd := &cobra.Command{
		Use:   "eject [path...]",
		Short: "Eject removable volumes, resolving blocking processes",
		Long: "Eject removable volumes. Without paths every volume is offered for selection. " +
			"Processes with saved rules are ended automatically when they block a volume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.all && len(args) > 0 {
				return errors.New("--all does not take paths")
			}

			store, closer, err := a.openRules()
			if err != nil {
				return err
			}
			defer closer.Close()

			var p prompter
			if opts.yes || opts.killSafe || !stdinIsTerminal() {
				p = &autoPrompter{endAll: opts.yes && !opts.killSafe, safeOnly: opts.killSafe, saveRules: opts.saveRules}
			} else {
				p = &huhPrompter{saveRules: opts.saveRules}
			}

			presenter := newStatePresenter(cmd.ErrOrStderr())
			w := workflow.New(cmd.Context(), workflow.Config{
				Volumes:   a.manager(),
				Rules:     store,
				Presenter: presenter,
			})
			a.log.Debug().Str("session", w.SessionID()).Msg("eject session started")

			if opts.all {
				w.EjectAll()
			} else {
				w.Scan()
			}
			return driveEject(cmd.Context(), w, presenter.states, p, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Eject every external volume without asking")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not prompt; end every blocking process")
	cmd.Flags().BoolVar(&opts.saveRules, "save-rules", false, "Save the processes that get ended as rules")
	cmd.Flags().BoolVar(&opts.killSafe, "kill-safe", false, "Do not prompt; end only processes known to be safe to stop")
	return cmd
}

// driveEject answers workflow states until the session ends.
func driveEject(ctx context.Context, w *workflow.Workflow, states <-chan workflow.State, p prompter, paths []string, out io.Writer) error {
	for {
		var state workflow.State
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state = <-states:
		}

		switch s := state.(type) {
		case workflow.Scanning:
		case workflow.NoVolumes:
			fmt.Fprintln(out, s.Message)
			return nil
		case workflow.VolumeSelection:
			selected, err := chooseVolumes(s.Volumes, paths, p)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				fmt.Fprintln(out, "Nothing selected.")
				return nil
			}
			if err := w.Eject(selected); err != nil {
				return err
			}
		case workflow.ProcessResolution:
			printBlockers(out, s.Blockers)
			processes, save, err := p.selectBlockers(s.Blockers)
			if err != nil {
				return err
			}
			if len(processes) == 0 {
				return fmt.Errorf("%w: %s", errStillBusy, volumeNames(s.Pending))
			}
			if err := w.EndProcesses(processes, save); err != nil {
				return err
			}
		case workflow.Completion:
			printCompletion(out, s)
			if !s.Success() {
				return fmt.Errorf("%d volume(s) could not be ejected", len(s.Failed))
			}
			return nil
		}
	}
}

// chooseVolumes narrows the scan to paths, matched by mount path or name,
// or asks the prompter when no paths were given.
func chooseVolumes(volumes []lib.Volume, paths []string, p prompter) ([]lib.Volume, error) {
	if len(paths) == 0 {
		return p.selectVolumes(volumes)
	}

	var selected []lib.Volume
	seen := make(map[lib.Volume]struct{})
	for _, path := range paths {
		v, ok := findVolume(volumes, path)
		if !ok {
			return nil, fmt.Errorf("no ejectable volume at %s", path)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		selected = append(selected, v)
	}
	return selected, nil
}

func findVolume(volumes []lib.Volume, arg string) (lib.Volume, bool) {
	cleaned := filepath.Clean(arg)
	for _, v := range volumes {
		if filepath.Clean(v.Path) == cleaned {
			return v, true
		}
	}
	for _, v := range volumes {
		if v.Name == arg {
			return v, true
		}
	}
	return lib.Volume{}, false
}

func volumeNames(volumes []lib.Volume) string {
	names := make([]string, len(volumes))
	for i, v := range volumes {
		names[i] = v.Name
	}
	return strings.Join(names, ", ")
}
