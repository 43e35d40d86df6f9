//go:build !darwin && !linux

package volume

var defaultExternalRoots []string

var defaultReservedPrefixes = []string{"/dev"}
