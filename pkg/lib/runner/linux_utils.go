//go:build linux

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antler-hat/devolume/pkg/lib"
)

const (
	procMounts   = "/proc/self/mounts"
	sysfsBlock   = "/sys/class/block"
	labelsDir    = "/dev/disk/by-label"
	usbTransport = "usb"
)

func ejectCommand(path string) (string, []string) {
	return "eject", []string{path}
}

func readMountTable() ([]lib.Mount, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseProcMounts(f)
}

func listMounts(ctx context.Context) ([]lib.Mount, error) {
	mounts, err := readMountTable()
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	labels := readLabels()
	for i := range mounts {
		m := &mounts[i]
		if m.IsRoot || !strings.HasPrefix(m.Device, "/dev/") {
			continue
		}
		applySysfsFlags(ctx, m, labels)
	}
	return mounts, nil
}

func applySysfsFlags(ctx context.Context, m *lib.Mount, labels map[string]string) {
	dev, err := filepath.EvalSymlinks(m.Device)
	if err != nil {
		logger.Debug().Err(err).Str("device", m.Device).Msg("cannot resolve device")
		return
	}
	disk := parentDisk(filepath.Base(dev))

	if data, err := os.ReadFile(filepath.Join(sysfsBlock, disk, "removable")); err == nil {
		m.Removable = strings.TrimSpace(string(data)) == "1"
	}
	if tran, err := lsblkTransport(ctx, disk); err == nil && strings.EqualFold(tran, usbTransport) {
		m.Internal = false
	}
	m.Ejectable = m.Removable || !m.Internal
	if label, ok := labels[dev]; ok {
		m.Name = label
	}
}

// parentDisk maps a partition name (sdb1) to its whole-disk name (sdb).
func parentDisk(name string) string {
	if _, err := os.Stat(filepath.Join(sysfsBlock, name, "partition")); err != nil {
		return name
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(sysfsBlock, name))
	if err != nil {
		return name
	}
	return filepath.Base(filepath.Dir(resolved))
}

func lsblkTransport(ctx context.Context, disk string) (string, error) {
	out, code, err := runCommand(ctx, "lsblk", "-ndo", "TRAN", "/dev/"+disk)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("lsblk %s: exit status %d", disk, code)
	}
	return parseLsblkTransport(string(out)), nil
}

// readLabels maps resolved device nodes to filesystem labels.
func readLabels() map[string]string {
	labels := make(map[string]string)
	entries, err := os.ReadDir(labelsDir)
	if err != nil {
		return labels
	}
	for _, e := range entries {
		dev, err := filepath.EvalSymlinks(filepath.Join(labelsDir, e.Name()))
		if err != nil {
			continue
		}
		labels[dev] = unescapeHex(e.Name())
	}
	return labels
}

func busProtocol(ctx context.Context, path string) (string, error) {
	mounts, err := readMountTable()
	if err != nil {
		return "", err
	}
	for _, m := range mounts {
		if m.Path != path {
			continue
		}
		dev, err := filepath.EvalSymlinks(m.Device)
		if err != nil {
			return "", err
		}
		return lsblkTransport(ctx, parentDisk(filepath.Base(dev)))
	}
	return "", fmt.Errorf("no mount at %s", path)
}
