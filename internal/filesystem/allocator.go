// Package filesystem provides disk-space preflight, sparse pre-extension
// and target-path sanitation/uniqueness for the pusher and entry point.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Allocator pre-extends target files and checks free space before a
// download commits to disk.
type Allocator struct {
	// SpaceBuffer is extra headroom required beyond the file size itself.
	SpaceBuffer int64
}

// NewAllocator returns an Allocator with a 100MB safety buffer.
func NewAllocator() *Allocator {
	return &Allocator{SpaceBuffer: 100 * 1024 * 1024}
}

// Preflight checks that the volume containing path has enough free space
// for size plus the safety buffer.
func (a *Allocator) Preflight(path string, size int64) error {
	dir := filepath.Dir(path)
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("filesystem: checking disk space: %w", err)
	}
	if int64(usage.Free) < size+a.SpaceBuffer {
		return fmt.Errorf("filesystem: disk full: need %d bytes, have %d", size+a.SpaceBuffer, usage.Free)
	}
	return nil
}

// Allocate creates (or truncates) path to size, sparse where the
// filesystem supports it. Mapped and Buffered pushers both call this
// before opening the file handle they will write into.
func (a *Allocator) Allocate(path string, size int64) error {
	if err := a.Preflight(path, size); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("filesystem: opening %s: %w", path, err)
	}
	defer f.Close()

	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("filesystem: pre-extending %s: %w", path, err)
		}
	}
	return nil
}

var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// Sanitize strips characters that are unsafe across common filesystems and
// clamps the result to maxLen bytes.
func Sanitize(name string, maxLen int) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "download"
	}
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]
		keep := maxLen - len(ext)
		if keep < 1 {
			keep = 1
		}
		if keep < len(base) {
			base = base[:keep]
		}
		name = base + ext
	}
	return name
}

// UniquePath returns a path under dir for sanitized name, appending
// " (k)" before the extension for increasing k until the path does not
// already exist.
func UniquePath(dir, rawName string) string {
	name := Sanitize(rawName, 248)
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for k := 2; k < 10000; k++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, k, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return candidate
}
