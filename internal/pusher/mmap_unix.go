//go:build !windows

package pusher

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapping wraps a memory-mapped region of a file.
type mmapping struct {
	data []byte
}

func mapFile(f *os.File, size int64) (mmapping, error) {
	if size == 0 {
		return mmapping{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return mmapping{}, err
	}
	return mmapping{data: data}, nil
}

func (m mmapping) bytes() []byte {
	return m.data
}

func (m mmapping) sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m mmapping) unmap() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Munmap(m.data)
}
