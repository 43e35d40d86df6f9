//go:build darwin

package volume

var defaultExternalRoots = []string{"/Volumes/"}

var defaultReservedPrefixes = []string{
	"/System", "/private", "/home", "/net", "/Network", "/dev", "/Volumes/Recovery",
}
