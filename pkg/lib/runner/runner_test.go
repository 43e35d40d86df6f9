package runner

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/antler-hat/devolume/pkg/lib"
)

func TestParseProcMounts(t *testing.T) {
	table := strings.Join([]string{
		"/dev/nvme0n1p2 / ext4 rw,relatime 0 0",
		"proc /proc proc rw,nosuid 0 0",
		`/dev/sdb1 /media/alice/MY\040STICK vfat rw,nosuid 0 0`,
		"garbage",
		"",
	}, "\n")

	mounts, err := parseProcMounts(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, mounts, 3)

	assert.Equal(t, lib.Mount{Device: "/dev/nvme0n1p2", Path: "/", FSType: "ext4", IsRoot: true, Internal: true}, mounts[0])
	assert.Equal(t, "/proc", mounts[1].Path)
	assert.False(t, mounts[1].IsRoot)
	assert.Equal(t, "/media/alice/MY STICK", mounts[2].Path)
	assert.Equal(t, "vfat", mounts[2].FSType)
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "plain", unescapeOctal("plain"))
	assert.Equal(t, `a b\c`, unescapeOctal(`a\040b\134c`))
	assert.Equal(t, `trailing\04`, unescapeOctal(`trailing\04`))
	assert.Equal(t, "MY STICK", unescapeHex(`MY\x20STICK`))
	assert.Equal(t, `bad\xZZ`, unescapeHex(`bad\xZZ`))
}

func TestParseDiskutilInfo(t *testing.T) {
	out := `   Device Identifier:         disk4s1
   Device Node:               /dev/disk4s1
   Volume Name:               BACKUP
   Mounted:                   Yes
   Mount Point:               /Volumes/BACKUP
   Protocol:                  USB
   Device Location:           External
   Removable Media:           Removable
   Ejectable:                 Yes
`
	info := parseDiskutilInfo(out)
	assert.Equal(t, "USB", info["Protocol"])
	assert.Equal(t, "/Volumes/BACKUP", info["Mount Point"])

	m := lib.Mount{Path: "/Volumes/BACKUP", Internal: true}
	applyDiskutilInfo(&m, info)
	assert.Equal(t, "BACKUP", m.Name)
	assert.False(t, m.Internal)
	assert.True(t, m.Removable)
	assert.True(t, m.Ejectable)
}

func TestApplyDiskutilInfo_InternalFixed(t *testing.T) {
	info := parseDiskutilInfo("Volume Name: Not applicable (no file system)\nInternal: Yes\nRemovable Media: Fixed\nEjectable: No\n")
	m := lib.Mount{Internal: false}
	applyDiskutilInfo(&m, info)
	assert.Empty(t, m.Name)
	assert.True(t, m.Internal)
	assert.False(t, m.Removable)
	assert.False(t, m.Ejectable)
}

func TestParseLsblkTransport(t *testing.T) {
	assert.Equal(t, "usb", parseLsblkTransport("\n  usb  \n"))
	assert.Equal(t, "", parseLsblkTransport("   \n"))
}

func TestRunCommand_ExitCodes(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("Skipping: sh not available")
	}
	ctx := context.Background()

	out, code, err := runCommand(ctx, "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "out\n", string(out))

	out, code, err = runCommand(ctx, "sh", "-c", "echo partial; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "partial\n", string(out))

	_, code, err = runCommand(ctx, "/nonexistent/definitely-not-here")
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestExecRunner_ListOpenFilesMissingBinary(t *testing.T) {
	r := NewExecRunner("/nonexistent/lsof")
	_, err := r.ListOpenFiles(context.Background(), os.TempDir())
	require.Error(t, err)
}

func TestExecRunner_SignalInvalidPID(t *testing.T) {
	r := NewExecRunner("")
	require.Error(t, r.Signal(0, unix.SIGKILL))
	require.Error(t, r.Signal(-5, unix.SIGKILL))
}

func TestExecRunner_SignalKillsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("Skipping: cannot start sleep: %v", err)
	}

	r := NewExecRunner("")
	require.NoError(t, r.Signal(cmd.Process.Pid, unix.SIGKILL))

	err := cmd.Wait()
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, -1, exitErr.ExitCode())
}
