//go:build windows

// ABOUTME: Transient "file in use" detection for Windows
// ABOUTME: Deleting a file another handle holds open fails with a sharing violation

package archive

import (
	"errors"

	"golang.org/x/sys/windows"
)

func isBusy(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
