package volume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/runner"
)

const lsofHeader = "COMMAND     PID   USER   FD   TYPE DEVICE SIZE/OFF NODE NAME"

// fakeRunner scripts ProcessRunner answers per path. Sequences advance on
// every call and repeat their last element.
type fakeRunner struct {
	mu         sync.Mutex
	mounts     []lib.Mount
	mountsErr  error
	openFiles  map[string][]string
	lsofErr    map[string]error
	ejectCodes map[string][]int
	ejectErr   map[string]error
	bus        map[string]string
	signalErr  map[int]error

	ejectCalls map[string]int
	lsofCalls  map[string]int
	signals    []int
}

var _ runner.ProcessRunner = (*fakeRunner)(nil)

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		openFiles:  make(map[string][]string),
		lsofErr:    make(map[string]error),
		ejectCodes: make(map[string][]int),
		ejectErr:   make(map[string]error),
		bus:        make(map[string]string),
		signalErr:  make(map[int]error),
		ejectCalls: make(map[string]int),
		lsofCalls:  make(map[string]int),
	}
}

func next[T any](seq []T, call int) (T, bool) {
	var zero T
	if len(seq) == 0 {
		return zero, false
	}
	if call >= len(seq) {
		return seq[len(seq)-1], true
	}
	return seq[call], true
}

func (f *fakeRunner) ListOpenFiles(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.lsofCalls[path]
	f.lsofCalls[path]++
	if err := f.lsofErr[path]; err != nil {
		return "", err
	}
	out, _ := next(f.openFiles[path], call)
	return out, nil
}

func (f *fakeRunner) Eject(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.ejectCalls[path]
	f.ejectCalls[path]++
	if err := f.ejectErr[path]; err != nil {
		return -1, err
	}
	code, _ := next(f.ejectCodes[path], call)
	return code, nil
}

func (f *fakeRunner) BusProtocol(_ context.Context, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proto, ok := f.bus[path]
	return proto, ok
}

func (f *fakeRunner) Signal(pid int, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, pid)
	return f.signalErr[pid]
}

func (f *fakeRunner) Mounts(context.Context) ([]lib.Mount, error) {
	return f.mounts, f.mountsErr
}

func (f *fakeRunner) ejects(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ejectCalls[path]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func macPolicy() Policy {
	return Policy{
		ExternalRoots:    []string{"/Volumes/"},
		ReservedPrefixes: []string{"/System", "/private", "/home", "/net", "/Network", "/dev", "/Volumes/Recovery"},
		BusPatterns:      []string{"usb"},
	}
}

func newTestManager(f *fakeRunner, opts ...Option) (*Manager, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts = append([]Option{WithPolicy(macPolicy()), WithSleep(rec.sleep)}, opts...)
	return NewManager(f, opts...), rec
}

func TestEnumerateExternalVolumes_Filters(t *testing.T) {
	f := newFakeRunner()
	f.mounts = []lib.Mount{
		{Path: "/", IsRoot: true, Ejectable: true},
		{Path: "/System/Volumes/Data", Removable: true},
		{Path: "/Volumes/Recovery", Ejectable: true},
		{Path: "/private/var/vm", Ejectable: true},
		{Path: "/dev", Ejectable: true},
		{Path: "/Volumes/Macintosh HD", Name: "Macintosh HD", Internal: true},
		{Path: "/Volumes/BACKUP", Name: "Backup Drive", Internal: false},
		{Path: "/Volumes/stick", Internal: true, Removable: true},
		{Path: "/Volumes/disc", Internal: true, Ejectable: true},
		{Path: "/opt/external", Name: "Elsewhere"},
	}
	m, _ := newTestManager(f)

	volumes := m.EnumerateExternalVolumes(context.Background())
	assert.Equal(t, []lib.Volume{
		{Name: "Backup Drive", Path: "/Volumes/BACKUP"},
		{Name: "stick", Path: "/Volumes/stick"},
		{Name: "disc", Path: "/Volumes/disc"},
	}, volumes)

	for _, v := range volumes {
		assert.NotEqual(t, "/", v.Path)
		assert.False(t, hasAnyPrefix(v.Path, macPolicy().ReservedPrefixes), v.Path)
	}
}

func TestEnumerateExternalVolumes_RequireExternalBus(t *testing.T) {
	f := newFakeRunner()
	f.mounts = []lib.Mount{
		{Path: "/Volumes/usb", Removable: true},
		{Path: "/Volumes/sd", Removable: true},
		{Path: "/Volumes/unknown", Removable: true},
	}
	f.bus["/Volumes/usb"] = "USB"
	f.bus["/Volumes/sd"] = "Secure Digital"

	policy := macPolicy()
	policy.RequireExternalBus = true
	m, _ := newTestManager(f, WithPolicy(policy))

	assert.Equal(t, []lib.Volume{{Name: "usb", Path: "/Volumes/usb"}}, m.EnumerateExternalVolumes(context.Background()))
}

func TestEnumerateExternalVolumes_MountError(t *testing.T) {
	f := newFakeRunner()
	f.mountsErr = errors.New("boom")
	m, _ := newTestManager(f)
	assert.Empty(t, m.EnumerateExternalVolumes(context.Background()))
}

func TestParseOpenFiles(t *testing.T) {
	out := lsofHeader + "\n" +
		"Finder     501 alice  cwd    DIR   1,18      128    2 /Volumes/BACKUP\n" +
		"Finder     501 alice  12r    REG   1,18     4096   17 /Volumes/BACKUP/a.txt\n" +
		"mds_store  88  root   3r     REG   1,18     4096   18 /Volumes/BACKUP/.Spotlight-V100\n" +
		"broken\n" +
		"nopid abc\n" +
		"\n"

	assert.Equal(t, []lib.ProcessInfo{
		{Name: "Finder", PID: 501},
		{Name: "mds_store", PID: 88},
	}, parseOpenFiles(out))

	assert.Empty(t, parseOpenFiles(""))
	assert.Empty(t, parseOpenFiles(lsofHeader+"\n"))
	assert.Empty(t, parseOpenFiles("Finder 501 alice cwd DIR"))
}

func TestFindProcessesUsingVolume_QueryFailureIsEmpty(t *testing.T) {
	f := newFakeRunner()
	f.lsofErr["/Volumes/A"] = errors.New("no lsof")
	m, _ := newTestManager(f)
	assert.Empty(t, m.FindProcessesUsingVolume(context.Background(), lib.Volume{Name: "A", Path: "/Volumes/A"}))
}

func TestEject(t *testing.T) {
	f := newFakeRunner()
	f.ejectCodes["/Volumes/ok"] = []int{0}
	f.ejectCodes["/Volumes/busy"] = []int{16}
	f.ejectErr["/Volumes/gone"] = errors.New("exec failed")
	m, _ := newTestManager(f)
	ctx := context.Background()

	assert.True(t, m.Eject(ctx, lib.Volume{Path: "/Volumes/ok"}))
	assert.False(t, m.Eject(ctx, lib.Volume{Path: "/Volumes/busy"}))
	assert.False(t, m.Eject(ctx, lib.Volume{Path: "/Volumes/gone"}))
}

func TestAttemptEject_OneEjectedOneBlocked(t *testing.T) {
	f := newFakeRunner()
	free := lib.Volume{Name: "A", Path: "/Volumes/A"}
	busy := lib.Volume{Name: "B", Path: "/Volumes/B"}
	f.openFiles[busy.Path] = []string{lsofHeader + "\nrandomtool123 4242 alice cwd DIR 1,18 0 2 /Volumes/B\n"}
	m, _ := newTestManager(f)

	result := m.AttemptEject(context.Background(), []lib.Volume{free, busy})

	assert.Equal(t, []lib.Volume{free}, result.Successful)
	assert.Equal(t, map[lib.Volume][]lib.ProcessInfo{busy: {{Name: "randomtool123", PID: 4242}}}, result.Blocking)
	assert.Empty(t, result.FailedWithoutProcesses)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, 0, f.ejects(busy.Path), "blocked volume must not be eject-attempted")
}

func TestAttemptEject_Partitions(t *testing.T) {
	f := newFakeRunner()
	var input []lib.Volume
	for i, path := range []string{"/Volumes/a", "/Volumes/b", "/Volumes/c", "/Volumes/d", "/Volumes/e", "/Volumes/f"} {
		input = append(input, lib.Volume{Name: path[9:], Path: path})
		switch i % 3 {
		case 1:
			f.openFiles[path] = []string{lsofHeader + "\nbird 77 alice txt REG 1,18 0 2 " + path + "\n"}
		case 2:
			f.ejectCodes[path] = []int{1}
		}
	}
	m, rec := newTestManager(f, WithParallelism(3))

	result := m.AttemptEject(context.Background(), input)

	seen := make(map[lib.Volume]int)
	for _, v := range result.Successful {
		seen[v]++
	}
	for v := range result.Blocking {
		seen[v]++
	}
	for _, v := range result.FailedWithoutProcesses {
		seen[v]++
	}
	require.Len(t, seen, len(input))
	for _, v := range input {
		assert.Equal(t, 1, seen[v], v.Path)
	}
	assert.Equal(t, []lib.Volume{input[0], input[3]}, result.Successful)
	assert.Equal(t, []lib.Volume{input[2], input[5]}, result.FailedWithoutProcesses)
	assert.Len(t, rec.delays, 6)
}

func TestAttemptEject_DuplicateInputHandledOnce(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	m, _ := newTestManager(f)

	result := m.AttemptEject(context.Background(), []lib.Volume{v, v})
	assert.Equal(t, []lib.Volume{v}, result.Successful)
	assert.Equal(t, 1, f.ejects(v.Path))
}

func TestEjectWithRetry_ExhaustsAttempts(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	f.ejectCodes[v.Path] = []int{1}
	m, rec := newTestManager(f)

	result := m.AttemptEject(context.Background(), []lib.Volume{v})

	assert.Equal(t, []lib.Volume{v}, result.FailedWithoutProcesses)
	assert.Equal(t, 4, f.ejects(v.Path))
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 600 * time.Millisecond, 900 * time.Millisecond}, rec.delays)
}

func TestEjectWithRetry_SucceedsLater(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	f.ejectCodes[v.Path] = []int{1, 1, 0}
	m, rec := newTestManager(f)

	result := m.AttemptEject(context.Background(), []lib.Volume{v})

	assert.Equal(t, []lib.Volume{v}, result.Successful)
	assert.Equal(t, 3, f.ejects(v.Path))
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 600 * time.Millisecond}, rec.delays)
}

func TestEjectWithRetry_DelayCapped(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	f.ejectCodes[v.Path] = []int{1}
	m, rec := newTestManager(f, WithRetryPolicy(RetryPolicy{
		Attempts:     6,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     2 * time.Second,
	}))

	m.AttemptEject(context.Background(), []lib.Volume{v})

	assert.Equal(t, 6, f.ejects(v.Path))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, rec.delays)
}

func TestEjectWithRetry_ProcessRacesIn(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	f.ejectCodes[v.Path] = []int{1}
	f.openFiles[v.Path] = []string{
		"",
		lsofHeader + "\nmdworker_shared 311 alice 4r REG 1,18 0 2 /Volumes/A/x\n",
	}
	m, rec := newTestManager(f)

	result := m.AttemptEject(context.Background(), []lib.Volume{v})

	assert.Equal(t, map[lib.Volume][]lib.ProcessInfo{v: {{Name: "mdworker_shared", PID: 311}}}, result.Blocking)
	assert.Equal(t, 1, f.ejects(v.Path))
	assert.Empty(t, rec.delays)
}

func TestEjectWithRetry_InterruptedSleep(t *testing.T) {
	f := newFakeRunner()
	v := lib.Volume{Name: "A", Path: "/Volumes/A"}
	f.ejectCodes[v.Path] = []int{1}
	m, rec := newTestManager(f)
	rec.err = context.Canceled

	result := m.AttemptEject(context.Background(), []lib.Volume{v})

	assert.Equal(t, []lib.Volume{v}, result.FailedWithoutProcesses)
	assert.Equal(t, 1, f.ejects(v.Path))
}

func TestTerminate_BestEffort(t *testing.T) {
	f := newFakeRunner()
	f.signalErr[2] = unix.ESRCH
	m, _ := newTestManager(f)

	err := m.Terminate([]lib.ProcessInfo{{Name: "a", PID: 1}, {Name: "b", PID: 2}, {Name: "c", PID: 3}})

	assert.Equal(t, []int{1, 2, 3}, f.signals)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorIs(t, err, unix.ESRCH)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestPolicy_AdmitsBus(t *testing.T) {
	p := Policy{BusPatterns: []string{"usb", "thunderbolt"}}
	assert.True(t, p.admitsBus("USB"))
	assert.True(t, p.admitsBus("Thunderbolt 3"))
	assert.False(t, p.admitsBus("SATA"))
	assert.False(t, p.admitsBus(""))
}
