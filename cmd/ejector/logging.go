package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/antler-hat/devolume/pkg/lib/notify"
	"github.com/antler-hat/devolume/pkg/lib/rules"
	"github.com/antler-hat/devolume/pkg/lib/runner"
	"github.com/antler-hat/devolume/pkg/lib/volume"
	"github.com/antler-hat/devolume/pkg/lib/workflow"
)

// newLogger builds the console logger every library package logs through.
func newLogger(out io.Writer, level string, color bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}

	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    !color,
		TimeFormat: "15:04:05.000",
	}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func installLogger(l zerolog.Logger) {
	runner.SetLogger(l)
	volume.SetLogger(l)
	notify.SetLogger(l)
	rules.SetLogger(l)
	workflow.SetLogger(l)
}
