//go:build !windows

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (s *MmapVectorStore) mmap(size int64) error {
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	s.mapped = data
	return nil
}

func (s *MmapVectorStore) munmap() error {
	if s.mapped != nil {
		err := unix.Munmap(s.mapped)
		s.mapped = nil
		return err
	}
	return nil
}
