//go:build windows

package storage

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmap maps the full current file length. Passing a mapping length of 0
// to MapViewOfFile maps the entire *mapping object*, which was created
// with the file's size at that moment — after file growth that view
// would not cover the new bytes and appends would fail. So the mapping
// object and the view are always created with the explicit file length.
func (s *MmapVectorStore) mmap(size int64) error {
	if size <= 0 {
		return fmt.Errorf("invalid mmap size: %d", size)
	}

	hi := uint32(uint64(size) >> 32)
	lo := uint32(uint64(size) & 0xffffffff)

	h, err := windows.CreateFileMapping(
		windows.Handle(s.file.Fd()),
		nil,
		windows.PAGE_READWRITE,
		hi,
		lo,
		nil,
	)
	if err != nil {
		return fmt.Errorf("CreateFileMapping failed: %w", err)
	}
	s.mapHandle = uintptr(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		s.mapHandle = 0
		return fmt.Errorf("MapViewOfFile failed: %w", err)
	}

	s.viewHandle = addr
	s.mapped = unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return nil
}

func (s *MmapVectorStore) munmap() error {
	if s.viewHandle != 0 {
		_ = windows.UnmapViewOfFile(s.viewHandle)
		s.viewHandle = 0
	}
	if s.mapHandle != 0 {
		_ = windows.CloseHandle(windows.Handle(s.mapHandle))
		s.mapHandle = 0
	}
	s.mapped = nil
	return nil
}
