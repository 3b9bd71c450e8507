//go:build !linux

package termimg

import "errors"

// ErrShmUnsupported is returned where POSIX shared memory is not wired up.
var ErrShmUnsupported = errors.New("shared memory transfer is not supported on this platform")

func ShmSupported() bool { return false }

func CreateShm(name string, data []byte) error { return ErrShmUnsupported }

func RemoveShm(name string) error { return nil }
