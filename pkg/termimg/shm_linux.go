//go:build linux

package termimg

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// ShmSupported reports whether CreateShm can work on this platform.
func ShmSupported() bool {
	var st unix.Statfs_t
	return unix.Statfs(shmDir, &st) == nil
}

// CreateShm creates the POSIX shared memory object name holding data. The
// terminal unlinks it after reading.
func CreateShm(name string, data []byte) error {
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return fmt.Errorf("shm open %s: %w", name, err)
	}
	defer unix.Close(fd)
	if len(data) == 0 {
		return nil
	}
	if err := unix.Ftruncate(fd, int64(len(data))); err != nil {
		unix.Unlink(path)
		return fmt.Errorf("shm truncate %s: %w", name, err)
	}
	mem, err := unix.Mmap(fd, 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(path)
		return fmt.Errorf("shm mmap %s: %w", name, err)
	}
	copy(mem, data)
	return unix.Munmap(mem)
}

// RemoveShm unlinks a shared memory object the terminal never consumed.
func RemoveShm(name string) error {
	if err := unix.Unlink(shmDir + name); err != nil && err != unix.ENOENT {
		return fmt.Errorf("shm unlink %s: %w", name, err)
	}
	return nil
}
