//go:build unix

// ABOUTME: Transient "file in use" detection for Unix platforms
// ABOUTME: EBUSY and ETXTBSY are retried; everything else fails immediately

package archive

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY)
}
