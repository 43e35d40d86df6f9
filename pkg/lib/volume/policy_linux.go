//go:build linux

package volume

var defaultExternalRoots = []string{"/media/", "/run/media/", "/mnt/"}

var defaultReservedPrefixes = []string{
	"/boot", "/dev", "/home", "/proc", "/sys", "/run/user", "/snap", "/mnt/wsl",
}
