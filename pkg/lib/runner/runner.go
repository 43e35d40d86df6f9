package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/antler-hat/devolume/pkg/lib"
)

var logger = zerolog.Nop()

// SetLogger replaces the package logger, which discards by default.
func SetLogger(l zerolog.Logger) {
	logger = l.With().Str("component", "runner").Logger()
}

// ProcessRunner exposes the OS primitives the eject engine depends on.
// Implementations perform no policy of their own.
type ProcessRunner interface {
	// ListOpenFiles returns raw lsof-style output for path: a header line,
	// then one row per open file starting with the command name and pid.
	ListOpenFiles(ctx context.Context, path string) (string, error)
	// Eject unmounts and ejects the device mounted at path. The error is set
	// only when the underlying command could not be run at all.
	Eject(ctx context.Context, path string) (int, error)
	// BusProtocol reports the transport a mount is attached through, e.g. "USB".
	BusProtocol(ctx context.Context, path string) (string, bool)
	// Signal delivers sig to pid.
	Signal(pid int, sig unix.Signal) error
	// Mounts lists every mounted filesystem with its OS flags.
	Mounts(ctx context.Context) ([]lib.Mount, error)
}

// ExecRunner implements ProcessRunner with system binaries and syscalls.
type ExecRunner struct {
	lsofPath string
}

var _ ProcessRunner = (*ExecRunner)(nil)

// NewExecRunner creates an ExecRunner. An empty lsofPath resolves lsof from PATH.
func NewExecRunner(lsofPath string) *ExecRunner {
	if lsofPath == "" {
		lsofPath = "lsof"
	}
	return &ExecRunner{lsofPath: lsofPath}
}

func (runner *ExecRunner) ListOpenFiles(ctx context.Context, path string) (string, error) {
	out, code, err := runCommand(ctx, runner.lsofPath, "-w", path)
	if err != nil {
		return "", err
	}
	// lsof exits 1 when nothing is open; the output is still authoritative
	logger.Debug().Str("path", path).Int("exit_code", code).Msg("lsof finished")
	return string(out), nil
}

func (runner *ExecRunner) Eject(ctx context.Context, path string) (int, error) {
	name, args := ejectCommand(path)
	_, code, err := runCommand(ctx, name, args...)
	if err != nil {
		return -1, err
	}
	return code, nil
}

func (runner *ExecRunner) BusProtocol(ctx context.Context, path string) (string, bool) {
	proto, err := busProtocol(ctx, path)
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("bus protocol query failed")
		return "", false
	}
	if proto == "" {
		return "", false
	}
	return proto, true
}

func (runner *ExecRunner) Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, sig)
}

func (runner *ExecRunner) Mounts(ctx context.Context) ([]lib.Mount, error) {
	return listMounts(ctx)
}

// runCommand runs name and returns its stdout and exit code. A non-zero exit
// is not an error; err is set only when the command could not be started or
// was interrupted.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Trace().Str("cmd", name).Strs("args", args).Msg("running command")
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			logger.Debug().
				Str("cmd", name).
				Int("exit_code", exitErr.ExitCode()).
				Str("stderr", stderr.String()).
				Msg("command exited with non-zero status")
			return stdout.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, -1, fmt.Errorf("running %s: %w", name, err)
	}
	return stdout.Bytes(), 0, nil
}
