// Package workflow drives a scan, select, resolve-blockers, complete session
// on top of the volume manager and the rule store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/safety"
)

const (
	msgScanning         = "Scanning external volumes..."
	msgEjecting         = "Ejecting selected drives..."
	msgEndingSaved      = "Ending saved processes..."
	msgEndingSelected   = "Ending selected processes..."
	msgAllEjected       = "All selected drives were ejected."
	msgNothingToEject   = "No external drives are mounted. Nothing to eject"
	msgUnableToEjectOne = "Unable to eject %s. Close any apps using it and try again."
	msgUnableToEjectAll = "Unable to eject: %s. Close any apps using them and try again."
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	// ErrBusy is returned while a previous operation is still running.
	ErrBusy = errors.New("workflow is busy")
	// ErrEmptySelection is returned when nothing was selected.
	ErrEmptySelection = errors.New("nothing selected")
)

var logger = zerolog.Nop()

// SetLogger replaces the package logger, which discards by default.
func SetLogger(l zerolog.Logger) {
	logger = l.With().Str("component", "workflow").Logger()
}

// VolumeManager is the eject engine used by the workflow.
type VolumeManager interface {
	EnumerateExternalVolumes(ctx context.Context) []lib.Volume
	AttemptEject(ctx context.Context, volumes []lib.Volume) lib.VolumeEjectResult
	Terminate(processes []lib.ProcessInfo) error
}

// RuleStore is the subset of the rule store the workflow reads and writes.
type RuleStore interface {
	ContainsRule(processName string) bool
	AddRules(processes []lib.ProcessInfo) error
}

// Classifier rates blocking processes.
type Classifier interface {
	Classify(name string) (lib.Safety, *lib.ProcessDescriptor)
}

// Config wires a Workflow. Foreground defaults to a SerialExecutor,
// Background to a GoExecutor and Classifier to the built-in table.
type Config struct {
	Volumes    VolumeManager
	Rules      RuleStore
	Classifier Classifier
	Presenter  Presenter
	Foreground Executor
	Background Executor
}

// resolutionMode says whether saved rules may be applied to a blocked result.
type resolutionMode int

const (
	manualResolution resolutionMode = iota
	// autoRetryOnce marks the retry that follows a rule-triggered
	// termination; its result always goes to the user.
	autoRetryOnce
)

// Workflow is the ejection state machine. State changes and presenter calls
// happen on the foreground executor; runner work happens on the background
// executor. Results of work started before the latest Scan or EjectAll are
// dropped.
type Workflow struct {
	ctx        context.Context
	volumes    VolumeManager
	rules      RuleStore
	classifier Classifier
	presenter  Presenter
	foreground Executor
	background Executor
	sessionID  string
	log        zerolog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	busy       bool
	// scanned holds the volumes still offered for ejection.
	scanned []lib.Volume
	// pending holds volumes blocked in the current cycle.
	pending []lib.Volume
	ejected []lib.Volume
	failed  []lib.Volume
}

// New creates a Workflow in the Scanning state. Nothing runs until Scan or
// EjectAll is called. ctx bounds every runner call the workflow makes.
func New(ctx context.Context, cfg Config) *Workflow {
	if cfg.Classifier == nil {
		cfg.Classifier = safety.Default()
	}
	if cfg.Foreground == nil {
		cfg.Foreground = NewSerialExecutor()
	}
	if cfg.Background == nil {
		cfg.Background = GoExecutor{}
	}
	sessionID := lib.NewID()
	return &Workflow{
		ctx:        ctx,
		volumes:    cfg.Volumes,
		rules:      cfg.Rules,
		classifier: cfg.Classifier,
		presenter:  cfg.Presenter,
		foreground: cfg.Foreground,
		background: cfg.Background,
		sessionID:  sessionID,
		log:        logger.With().Str("session", sessionID).Logger(),
		state:      Scanning{},
	}
}

func (w *Workflow) SessionID() string {
	return w.sessionID
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Scan discards all session state and enumerates volumes again. It may be
// called at any time.
func (w *Workflow) Scan() {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	w.resetLocked()
	w.state = Scanning{}
	w.busy = true
	w.mu.Unlock()

	w.log.Debug().Uint64("generation", gen).Msg("scan started")
	w.post(func() {
		w.presenter.ShowOutcome(Scanning{})
		w.presenter.ShowProgress(msgScanning)
	})
	w.background.Execute(func() {
		volumes := w.volumes.EnumerateExternalVolumes(w.ctx)
		w.post(func() { w.finishScan(gen, volumes) })
	})
}

func (w *Workflow) finishScan(gen uint64, volumes []lib.Volume) {
	volumes = sortedVolumes(volumes)

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		w.log.Debug().Uint64("generation", gen).Msg("dropping stale scan result")
		return
	}
	w.busy = false
	w.scanned = volumes
	var state State
	if len(volumes) == 0 {
		state = NoVolumes{Message: msgNothingToEject}
	} else {
		state = VolumeSelection{Volumes: cloneVolumes(volumes)}
	}
	w.state = state
	w.mu.Unlock()

	w.log.Debug().Int("volumes", len(volumes)).Msg("scan finished")
	w.presenter.ShowOutcome(state)
}

// Eject attempts the selected volumes. It is valid only in VolumeSelection.
func (w *Workflow) Eject(selected []lib.Volume) error {
	if len(selected) == 0 {
		return ErrEmptySelection
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.state.Phase() != PhaseVolumeSelection {
		phase := w.state.Phase()
		w.mu.Unlock()
		return fmt.Errorf("eject in %s: %w", phase, ErrInvalidTransition)
	}
	gen := w.generation
	w.busy = true
	w.ejected, w.failed, w.pending = nil, nil, nil
	w.mu.Unlock()

	w.startEject(gen, cloneVolumes(selected), manualResolution)
	return nil
}

// EjectAll enumerates volumes and attempts every one without a selection
// step. It discards any previous session state.
func (w *Workflow) EjectAll() {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	w.resetLocked()
	w.state = Scanning{}
	w.busy = true
	w.mu.Unlock()

	w.log.Debug().Uint64("generation", gen).Msg("eject all started")
	w.post(func() { w.presenter.ShowProgress(msgScanning) })
	w.background.Execute(func() {
		volumes := sortedVolumes(w.volumes.EnumerateExternalVolumes(w.ctx))
		if len(volumes) == 0 {
			w.post(func() { w.complete(gen, msgNothingToEject) })
			return
		}
		w.post(func() {
			w.mu.Lock()
			stale := gen != w.generation
			if !stale {
				w.scanned = volumes
			}
			w.mu.Unlock()
			if !stale {
				w.presenter.ShowProgress(msgEjecting)
			}
		})
		result := w.volumes.AttemptEject(w.ctx, volumes)
		w.post(func() { w.applyResult(gen, result, manualResolution) })
	})
}

// EndProcesses terminates the selected blockers, optionally saving them as
// rules first, and retries the pending volumes. It is valid only in
// ProcessResolution. A rule persistence failure aborts before anything is
// terminated.
func (w *Workflow) EndProcesses(selected []lib.ProcessInfo, saveAsRules bool) error {
	processes := uniqueProcesses(selected)
	if len(processes) == 0 {
		return ErrEmptySelection
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.state.Phase() != PhaseProcessResolution {
		phase := w.state.Phase()
		w.mu.Unlock()
		return fmt.Errorf("end processes in %s: %w", phase, ErrInvalidTransition)
	}
	if saveAsRules {
		if err := w.rules.AddRules(processes); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("saving rules: %w", err)
		}
	}
	gen := w.generation
	w.busy = true
	pending := cloneVolumes(w.pending)
	w.mu.Unlock()

	w.log.Info().Int("processes", len(processes)).Bool("save_rules", saveAsRules).Msg("ending selected processes")
	w.post(func() { w.presenter.ShowProgress(msgEndingSelected) })
	w.terminateAndRetry(gen, processes, pending, manualResolution)
	return nil
}

func (w *Workflow) startEject(gen uint64, volumes []lib.Volume, mode resolutionMode) {
	w.post(func() { w.presenter.ShowProgress(msgEjecting) })
	w.background.Execute(func() {
		result := w.volumes.AttemptEject(w.ctx, volumes)
		w.post(func() { w.applyResult(gen, result, mode) })
	})
}

func (w *Workflow) terminateAndRetry(gen uint64, processes []lib.ProcessInfo, pending []lib.Volume, mode resolutionMode) {
	w.background.Execute(func() {
		if err := w.volumes.Terminate(processes); err != nil {
			w.log.Debug().Err(err).Msg("some processes could not be terminated")
		}
		if len(pending) == 0 {
			w.post(func() { w.complete(gen, msgAllEjected) })
			return
		}
		w.post(func() { w.presenter.ShowProgress(msgEjecting) })
		result := w.volumes.AttemptEject(w.ctx, pending)
		w.post(func() { w.applyResult(gen, result, mode) })
	})
}

// applyResult runs on the foreground executor once a whole batch resolved.
func (w *Workflow) applyResult(gen uint64, result lib.VolumeEjectResult, mode resolutionMode) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		w.log.Debug().Uint64("generation", gen).Msg("dropping stale eject result")
		return
	}
	w.scanned = removeVolumes(w.scanned, result.Successful)
	w.ejected = append(w.ejected, result.Successful...)
	w.failed = append(w.failed, result.FailedWithoutProcesses...)

	if len(result.Blocking) == 0 {
		w.mu.Unlock()
		w.complete(gen, "")
		return
	}

	blocked := sortedVolumes(mapKeys(result.Blocking))
	w.pending = blocked

	if mode == manualResolution {
		if auto := w.ruleMatches(blocked, result.Blocking); len(auto) > 0 {
			w.mu.Unlock()
			w.log.Info().Int("processes", len(auto)).Msg("ending processes with saved rules")
			w.presenter.ShowProgress(msgEndingSaved)
			w.terminateAndRetry(gen, auto, cloneVolumes(blocked), autoRetryOnce)
			return
		}
	}

	state := ProcessResolution{
		Pending:  cloneVolumes(blocked),
		Blockers: w.aggregate(blocked, result.Blocking),
		Failed:   cloneVolumes(w.failed),
	}
	w.state = state
	w.busy = false
	w.mu.Unlock()

	w.presenter.ShowOutcome(state)
}

// complete moves to Completion. An empty message is derived from the
// volumes that failed during the cycle.
func (w *Workflow) complete(gen uint64, message string) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	failed := sortedVolumes(w.failed)
	if message == "" {
		message = completionMessage(failed)
	}
	state := Completion{
		Message: message,
		Ejected: cloneVolumes(w.ejected),
		Failed:  failed,
	}
	w.state = state
	w.busy = false
	w.pending = nil
	w.mu.Unlock()

	w.log.Info().Int("ejected", len(state.Ejected)).Int("failed", len(state.Failed)).Msg("ejection finished")
	w.presenter.ShowOutcome(state)
}

// ruleMatches collects, across every blocked volume, the distinct processes
// that have a saved rule.
func (w *Workflow) ruleMatches(blocked []lib.Volume, blocking map[lib.Volume][]lib.ProcessInfo) []lib.ProcessInfo {
	var matches []lib.ProcessInfo
	for _, v := range blocked {
		for _, p := range blocking[v] {
			if w.rules.ContainsRule(p.Name) {
				matches = append(matches, p)
			}
		}
	}
	return uniqueProcesses(matches)
}

// aggregate builds the blocker rows ordered by volume, process name and pid.
func (w *Workflow) aggregate(blocked []lib.Volume, blocking map[lib.Volume][]lib.ProcessInfo) []lib.VolumeProcessInfo {
	var rows []lib.VolumeProcessInfo
	for _, v := range blocked {
		processes := append([]lib.ProcessInfo(nil), blocking[v]...)
		sort.SliceStable(processes, func(i, j int) bool {
			if c := lib.CompareNames(processes[i].Name, processes[j].Name); c != 0 {
				return c < 0
			}
			return processes[i].PID < processes[j].PID
		})
		for _, p := range processes {
			tier, descriptor := w.classifier.Classify(p.Name)
			rows = append(rows, lib.VolumeProcessInfo{
				Volume:     v,
				Process:    p,
				Safety:     tier,
				Descriptor: descriptor,
			})
		}
	}
	return rows
}

func (w *Workflow) resetLocked() {
	w.scanned, w.pending, w.ejected, w.failed = nil, nil, nil, nil
}

func (w *Workflow) post(task func()) {
	w.foreground.Execute(task)
}

func completionMessage(failed []lib.Volume) string {
	if len(failed) == 0 {
		return msgAllEjected
	}
	names := make([]string, len(failed))
	for i, v := range failed {
		names[i] = v.Name
	}
	sort.Strings(names)
	joined := strings.Join(names, ", ")
	if len(names) == 1 {
		return fmt.Sprintf(msgUnableToEjectOne, joined)
	}
	return fmt.Sprintf(msgUnableToEjectAll, joined)
}

// uniqueProcesses dedupes by pid, keeping the first occurrence.
func uniqueProcesses(processes []lib.ProcessInfo) []lib.ProcessInfo {
	seen := make(map[int]struct{}, len(processes))
	var unique []lib.ProcessInfo
	for _, p := range processes {
		if _, ok := seen[p.PID]; ok {
			continue
		}
		seen[p.PID] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

func sortedVolumes(volumes []lib.Volume) []lib.Volume {
	sorted := cloneVolumes(volumes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := lib.CompareNames(sorted[i].Name, sorted[j].Name); c != 0 {
			return c < 0
		}
		return sorted[i].Path < sorted[j].Path
	})
	return sorted
}

func removeVolumes(volumes, remove []lib.Volume) []lib.Volume {
	if len(remove) == 0 {
		return volumes
	}
	drop := make(map[lib.Volume]struct{}, len(remove))
	for _, v := range remove {
		drop[v] = struct{}{}
	}
	var kept []lib.Volume
	for _, v := range volumes {
		if _, ok := drop[v]; !ok {
			kept = append(kept, v)
		}
	}
	return kept
}

func mapKeys(m map[lib.Volume][]lib.ProcessInfo) []lib.Volume {
	keys := make([]lib.Volume, 0, len(m))
	for v := range m {
		keys = append(keys, v)
	}
	return keys
}

func cloneVolumes(volumes []lib.Volume) []lib.Volume {
	if volumes == nil {
		return nil
	}
	return append([]lib.Volume(nil), volumes...)
}
