package runner

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/antler-hat/devolume/pkg/lib"
)

// parseProcMounts reads a /proc/mounts formatted table. Only the device,
// mount point and filesystem type are taken; flags are filled in later.
func parseProcMounts(r io.Reader) ([]lib.Mount, error) {
	var mounts []lib.Mount
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		path := unescapeOctal(fields[1])
		mounts = append(mounts, lib.Mount{
			Device:   unescapeOctal(fields[0]),
			Path:     path,
			FSType:   fields[2],
			IsRoot:   path == "/",
			Internal: true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mounts, nil
}

// unescapeOctal decodes the \NNN escapes the kernel uses for spaces, tabs
// and backslashes in mount fields.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// parseDiskutilInfo turns `diskutil info` output into a key/value map.
// Keys keep diskutil's spelling, e.g. "Device Location", "Protocol".
func parseDiskutilInfo(out string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		info[key] = strings.TrimSpace(value)
	}
	return info
}

// applyDiskutilInfo copies volume name and placement flags onto m.
func applyDiskutilInfo(m *lib.Mount, info map[string]string) {
	if name := info["Volume Name"]; name != "" && !strings.HasPrefix(name, "Not applicable") {
		m.Name = name
	}
	if loc, ok := info["Device Location"]; ok {
		m.Internal = strings.EqualFold(loc, "Internal")
	} else if internal, ok := info["Internal"]; ok {
		m.Internal = strings.EqualFold(internal, "Yes")
	}
	switch strings.ToLower(info["Removable Media"]) {
	case "removable", "yes":
		m.Removable = true
	}
	m.Ejectable = strings.EqualFold(info["Ejectable"], "Yes")
}

// parseLsblkTransport extracts the first non-empty line of `lsblk -ndo TRAN`.
func parseLsblkTransport(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// unescapeHex decodes the \xHH escapes udev uses in /dev/disk/by-label names.
func unescapeHex(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
