//go:build linux || darwin

package shmipc

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shm_open-named objects actually live on Linux;
// using the same path convention on darwin keeps tests and tooling uniform
// even though darwin's real shm_open namespace is different. The pool
// creates this directory on demand.
const shmDir = "/dev/shm"

func shmPath(name string) string {
	// Segment names are "/shm_<pid>_<i>"; shm_open treats the leading
	// slash as part of an opaque name, not a path separator.
	return filepath.Join(shmDir, filepath.Base(name))
}

// shmCreate creates (or truncates) a named shared-memory mapping of
// headerSize+segsize bytes and returns it mapped read/write.
func shmCreate(name string, segsize int) ([]byte, error) {
	path := shmPath(name)
	if err := os.MkdirAll(shmDir, 0o1777); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("shmipc: prepare %s: %w", shmDir, err)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shmipc: shm_open %s: %w", name, err)
	}
	defer unix.Close(fd)

	total := headerSize + segsize
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		return nil, fmt.Errorf("shmipc: ftruncate %s: %w", name, err)
	}

	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmipc: mmap %s: %w", name, err)
	}
	return mem, nil
}

// shmAttach opens and maps an existing named segment (the cache worker's
// side of the handshake: it never creates segments, only attaches).
func shmAttach(name string, segsize int) ([]byte, error) {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmipc: shm_open(attach) %s: %w", name, err)
	}
	defer unix.Close(fd)

	total := headerSize + segsize
	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmipc: mmap(attach) %s: %w", name, err)
	}
	return mem, nil
}

func shmUnmap(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}

func shmUnlink(name string) error {
	err := unix.Unlink(shmPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
