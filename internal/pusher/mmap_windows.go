//go:build windows

package pusher

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapping wraps a memory-mapped region of a file on Windows, where the
// mapping handle must be kept alive alongside the data slice.
type mmapping struct {
	data   []byte
	handle windows.Handle
}

func mapFile(f *os.File, size int64) (mmapping, error) {
	if size == 0 {
		return mmapping{}, nil
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE, uint32(size>>32), uint32(size&0xffffffff), nil)
	if err != nil {
		return mmapping{}, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return mmapping{}, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return mmapping{data: data, handle: h}, nil
}

func (m mmapping) bytes() []byte {
	return m.data
}

func (m mmapping) sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

func (m mmapping) unmap() error {
	if len(m.data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&m.data[0]))
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}
	return windows.CloseHandle(m.handle)
}
