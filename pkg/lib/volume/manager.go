// Package volume discovers ejectable volumes, finds what keeps them busy and
// ejects them.
package volume

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/runner"
)

const defaultParallelism = 4

var logger = zerolog.Nop()

// SetLogger replaces the package logger, which discards by default.
func SetLogger(l zerolog.Logger) {
	logger = l.With().Str("component", "volume").Logger()
}

// SleepFunc pauses between eject attempts. It returns early with ctx's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Manager is the eject engine. It holds no state between calls.
type Manager struct {
	runner      runner.ProcessRunner
	policy      Policy
	retry       RetryPolicy
	parallelism int
	sleep       SleepFunc
}

type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

// WithParallelism bounds how many volumes AttemptEject works on at once.
func WithParallelism(n int) Option {
	return func(m *Manager) { m.parallelism = n }
}

func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) { m.sleep = fn }
}

// NewManager creates a Manager over r.
func NewManager(r runner.ProcessRunner, opts ...Option) *Manager {
	m := &Manager{
		runner:      r,
		policy:      DefaultPolicy(),
		retry:       DefaultRetryPolicy(),
		parallelism: defaultParallelism,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parallelism < 1 {
		m.parallelism = 1
	}
	if m.retry.Attempts < 1 {
		m.retry.Attempts = 1
	}
	return m
}

// EnumerateExternalVolumes lists the mounted volumes the policy admits, in
// the order the OS reports them. A failing mount query yields no volumes.
func (m *Manager) EnumerateExternalVolumes(ctx context.Context) []lib.Volume {
	mounts, err := m.runner.Mounts(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("listing mounts failed")
		return nil
	}

	var volumes []lib.Volume
	for _, mount := range mounts {
		if !m.policy.admitsMount(mount) {
			continue
		}
		if m.policy.RequireExternalBus {
			protocol, ok := m.runner.BusProtocol(ctx, mount.Path)
			if !ok || !m.policy.admitsBus(protocol) {
				logger.Debug().Str("path", mount.Path).Str("protocol", protocol).Msg("skipping mount on internal bus")
				continue
			}
		}
		name := mount.Name
		if name == "" {
			name = filepath.Base(mount.Path)
		}
		volumes = append(volumes, lib.Volume{Name: name, Path: mount.Path})
	}
	return volumes
}

// FindProcessesUsingVolume lists the processes holding files open under the
// volume, one entry per pid. Query failures are reported as no processes.
func (m *Manager) FindProcessesUsingVolume(ctx context.Context, v lib.Volume) []lib.ProcessInfo {
	out, err := m.runner.ListOpenFiles(ctx, v.Path)
	if err != nil {
		logger.Debug().Err(err).Str("path", v.Path).Msg("listing open files failed")
		return nil
	}
	return parseOpenFiles(out)
}

// parseOpenFiles reads lsof output: a header line, then rows beginning with
// the command name and the pid.
func parseOpenFiles(out string) []lib.ProcessInfo {
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return nil
	}

	var processes []lib.ProcessInfo
	seen := make(map[int]struct{})
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		processes = append(processes, lib.ProcessInfo{Name: fields[0], PID: pid})
	}
	return processes
}

// Eject makes a single eject attempt. Only exit status zero is success.
func (m *Manager) Eject(ctx context.Context, v lib.Volume) bool {
	code, err := m.runner.Eject(ctx, v.Path)
	if err != nil {
		logger.Debug().Err(err).Str("path", v.Path).Msg("eject could not run")
		return false
	}
	return code == 0
}

type outcome int

const (
	outcomeEjected outcome = iota
	outcomeBlocked
	outcomeFailed
)

type volumeOutcome struct {
	outcome   outcome
	processes []lib.ProcessInfo
}

// AttemptEject ejects every volume independently and reports each one as
// ejected, blocked or failed. Blocked volumes are never eject-attempted.
// Outcome lists keep input order; repeated volumes are handled once.
func (m *Manager) AttemptEject(ctx context.Context, volumes []lib.Volume) lib.VolumeEjectResult {
	volumes = uniqueVolumes(volumes)
	outcomes := make([]volumeOutcome, len(volumes))

	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for i, v := range volumes {
		g.Go(func() error {
			outcomes[i] = m.attemptOne(ctx, v)
			return nil
		})
	}
	_ = g.Wait()

	result := lib.VolumeEjectResult{Blocking: make(map[lib.Volume][]lib.ProcessInfo)}
	for i, v := range volumes {
		switch outcomes[i].outcome {
		case outcomeEjected:
			result.Successful = append(result.Successful, v)
		case outcomeBlocked:
			result.Blocking[v] = outcomes[i].processes
		default:
			result.FailedWithoutProcesses = append(result.FailedWithoutProcesses, v)
		}
	}
	logger.Debug().
		Int("ejected", len(result.Successful)).
		Int("blocked", len(result.Blocking)).
		Int("failed", len(result.FailedWithoutProcesses)).
		Msg("eject batch finished")
	return result
}

func (m *Manager) attemptOne(ctx context.Context, v lib.Volume) volumeOutcome {
	if processes := m.FindProcessesUsingVolume(ctx, v); len(processes) > 0 {
		return volumeOutcome{outcome: outcomeBlocked, processes: processes}
	}
	return m.ejectWithRetry(ctx, v)
}

// ejectWithRetry re-checks for blockers after every failed attempt so a
// process that opened the volume in the meantime is reported by name.
func (m *Manager) ejectWithRetry(ctx context.Context, v lib.Volume) volumeOutcome {
	delays := m.newBackOff()
	for attempt := 1; ; attempt++ {
		if m.Eject(ctx, v) {
			return volumeOutcome{outcome: outcomeEjected}
		}
		if processes := m.FindProcessesUsingVolume(ctx, v); len(processes) > 0 {
			logger.Info().Str("path", v.Path).Int("attempt", attempt).Msg("volume became busy during eject")
			return volumeOutcome{outcome: outcomeBlocked, processes: processes}
		}
		if attempt >= m.retry.Attempts {
			break
		}
		delay := delays.NextBackOff()
		logger.Info().Str("path", v.Path).Int("attempt", attempt).Dur("delay", delay).Msg("eject failed, retrying")
		if err := m.sleep(ctx, delay); err != nil {
			logger.Debug().Err(err).Str("path", v.Path).Msg("eject retry interrupted")
			break
		}
	}
	logger.Warn().Str("path", v.Path).Msg("eject failed with no blocking process")
	return volumeOutcome{outcome: outcomeFailed}
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retry.InitialDelay
	b.Multiplier = m.retry.Multiplier
	b.MaxInterval = m.retry.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Terminate force-kills every process. Failures do not stop the loop; they
// are combined into the returned error.
func (m *Manager) Terminate(processes []lib.ProcessInfo) error {
	var errs error
	for _, p := range processes {
		if err := m.runner.Signal(p.PID, unix.SIGKILL); err != nil {
			logger.Debug().Err(err).Int("pid", p.PID).Str("name", p.Name).Msg("terminate failed")
			errs = multierr.Append(errs, fmt.Errorf("kill %s (%d): %w", p.Name, p.PID, err))
		}
	}
	return errs
}

func uniqueVolumes(volumes []lib.Volume) []lib.Volume {
	seen := make(map[lib.Volume]struct{}, len(volumes))
	unique := make([]lib.Volume, 0, len(volumes))
	for _, v := range volumes {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	return unique
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
