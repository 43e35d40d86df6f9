package lib

// Volume is one mounted, ejectable filesystem.
type Volume struct {
	Name string
	Path string
}

// ProcessInfo is one OS process observed holding a volume open. Identity is the pid.
type ProcessInfo struct {
	Name string
	PID  int
}

// Safety is the expected consequence of force-terminating a process.
type Safety int

const (
	SafetyUnknown Safety = iota
	SafetySafe
	SafetyUnsafe
)

func (s Safety) String() string {
	switch s {
	case SafetySafe:
		return "SAFE"
	case SafetyUnsafe:
		return "UNSAFE"
	default:
		return "UNKNOWN"
	}
}

// ProcessDescriptor is a built-in knowledge base entry. Names are lowercase aliases.
type ProcessDescriptor struct {
	Names    []string
	Category string
	Safety   Safety
	Notes    string
}

// PrimaryName returns the first alias.
func (d ProcessDescriptor) PrimaryName() string {
	if len(d.Names) == 0 {
		return ""
	}
	return d.Names[0]
}

// ProcessRule is a user-approved automation entry, unique by Identifier.
type ProcessRule struct {
	Identifier  string
	DisplayName string
}

// VolumeEjectResult is the outcome of one ejection batch. Every attempted
// volume lands in exactly one of the three outcomes.
type VolumeEjectResult struct {
	Successful             []Volume
	Blocking               map[Volume][]ProcessInfo
	FailedWithoutProcesses []Volume
}

// IsSuccess holds when nothing is blocked and nothing failed.
func (r VolumeEjectResult) IsSuccess() bool {
	return len(r.Blocking) == 0 && len(r.FailedWithoutProcesses) == 0
}

// VolumeProcessInfo is one row of the user-facing blocker list.
type VolumeProcessInfo struct {
	Volume     Volume
	Process    ProcessInfo
	Safety     Safety
	Descriptor *ProcessDescriptor
}

// Mount is a mounted filesystem as reported by the OS, before any filtering.
type Mount struct {
	Path   string
	Device string
	FSType string
	// Name is the OS-localized volume name; empty when the OS has none.
	Name      string
	IsRoot    bool
	Internal  bool
	Removable bool
	Ejectable bool
}
