package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antler-hat/devolume/pkg/lib/rules"
	"github.com/antler-hat/devolume/pkg/lib/runner"
	"github.com/antler-hat/devolume/pkg/lib/settings"
	"github.com/antler-hat/devolume/pkg/lib/volume"
)

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg    config
	log    zerolog.Logger
	runner runner.ProcessRunner
}

func (a *app) manager() *volume.Manager {
	return volume.NewManager(a.runner,
		volume.WithPolicy(a.cfg.policy()),
		volume.WithRetryPolicy(a.cfg.Retry),
		volume.WithParallelism(a.cfg.Parallelism),
	)
}

// openRules opens the rule store in the settings directory. The returned
// closer releases both the store and its backing settings.
func (a *app) openRules() (*rules.Store, io.Closer, error) {
	dir, err := settings.NewDirStore(a.cfg.SettingsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening settings: %w", err)
	}
	store := rules.NewStore(dir)
	return store, closerFunc(func() error {
		store.Close()
		return dir.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func NewRootCmd() *cobra.Command {
	a := &app{}
	v := newViper()

	root := &cobra.Command{
		Use:           "ejector",
		Short:         "Eject removable volumes and deal with the processes keeping them busy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindConfigFlags(v, cmd.Root().PersistentFlags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, stderrIsTerminal())
			if err != nil {
				return err
			}
			installLogger(log)

			a.cfg = cfg
			a.log = log
			if a.runner == nil {
				a.runner = runner.NewExecRunner("")
			}
			log.Debug().Str("settings_dir", cfg.SettingsDir).Msg("configuration loaded")
			return nil
		},
	}
	addConfigFlags(root.PersistentFlags())

	root.AddCommand(newListCmd(a))
	root.AddCommand(newEjectCmd(a))
	root.AddCommand(newBlockersCmd(a))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newRulesCmd(a))

	return root
}
