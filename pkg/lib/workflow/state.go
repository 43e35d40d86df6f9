package workflow

import "github.com/antler-hat/devolume/pkg/lib"

// Phase names the variant of a State.
type Phase int

const (
	PhaseScanning Phase = iota
	PhaseNoVolumes
	PhaseVolumeSelection
	PhaseProcessResolution
	PhaseCompletion
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseNoVolumes:
		return "no-volumes"
	case PhaseVolumeSelection:
		return "volume-selection"
	case PhaseProcessResolution:
		return "process-resolution"
	case PhaseCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// State is one of Scanning, NoVolumes, VolumeSelection, ProcessResolution or
// Completion. Payloads are snapshots and safe to keep.
type State interface {
	Phase() Phase
}

type Scanning struct{}

// NoVolumes ends a scan that found nothing to eject.
type NoVolumes struct {
	Message string
}

// VolumeSelection offers the scanned volumes, sorted by name.
type VolumeSelection struct {
	Volumes []lib.Volume
}

// ProcessResolution lists the processes keeping Pending volumes busy.
// Failed holds volumes of the same cycle that failed with no known blocker.
type ProcessResolution struct {
	Pending  []lib.Volume
	Blockers []lib.VolumeProcessInfo
	Failed   []lib.Volume
}

// Completion ends an ejection cycle.
type Completion struct {
	Message string
	Ejected []lib.Volume
	Failed  []lib.Volume
}

// Success reports whether every attempted volume was ejected.
func (c Completion) Success() bool {
	return len(c.Failed) == 0
}

func (Scanning) Phase() Phase          { return PhaseScanning }
func (NoVolumes) Phase() Phase         { return PhaseNoVolumes }
func (VolumeSelection) Phase() Phase   { return PhaseVolumeSelection }
func (ProcessResolution) Phase() Phase { return PhaseProcessResolution }
func (Completion) Phase() Phase        { return PhaseCompletion }

// Presenter renders workflow output. Both methods are called from the
// foreground executor, one at a time.
type Presenter interface {
	ShowOutcome(state State)
	ShowProgress(message string)
}
