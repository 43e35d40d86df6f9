//go:build darwin

package runner

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/antler-hat/devolume/pkg/lib"
)

func ejectCommand(path string) (string, []string) {
	return "diskutil", []string{"eject", path}
}

func diskutilInfo(ctx context.Context, path string) (map[string]string, error) {
	out, code, err := runCommand(ctx, "diskutil", "info", path)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("diskutil info %s: exit status %d", path, code)
	}
	return parseDiskutilInfo(string(out)), nil
}

func busProtocol(ctx context.Context, path string) (string, error) {
	info, err := diskutilInfo(ctx, path)
	if err != nil {
		return "", err
	}
	return info["Protocol"], nil
}

func listMounts(ctx context.Context) ([]lib.Mount, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat: %w", err)
	}
	stats := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(stats, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat: %w", err)
	}

	mounts := make([]lib.Mount, 0, n)
	for i := range stats[:n] {
		st := &stats[i]
		// Hidden volumes are never offered for ejection
		if st.Flags&unix.MNT_DONTBROWSE != 0 {
			continue
		}
		m := lib.Mount{
			Path:     unix.ByteSliceToString(st.Mntonname[:]),
			Device:   unix.ByteSliceToString(st.Mntfromname[:]),
			FSType:   unix.ByteSliceToString(st.Fstypename[:]),
			IsRoot:   st.Flags&unix.MNT_ROOTFS != 0,
			Internal: true,
		}
		if !m.IsRoot && strings.HasPrefix(m.Device, "/dev/") {
			info, err := diskutilInfo(ctx, m.Path)
			if err != nil {
				logger.Debug().Err(err).Str("path", m.Path).Msg("diskutil info failed")
			} else {
				applyDiskutilInfo(&m, info)
			}
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}
