//go:build !darwin && !linux

package runner

import (
	"context"
	"errors"

	"github.com/antler-hat/devolume/pkg/lib"
)

var errUnsupported = errors.New("volume ejection is not supported on this platform")

func ejectCommand(path string) (string, []string) {
	return "umount", []string{path}
}

func busProtocol(ctx context.Context, path string) (string, error) {
	return "", errUnsupported
}

func listMounts(ctx context.Context) ([]lib.Mount, error) {
	return nil, errUnsupported
}
