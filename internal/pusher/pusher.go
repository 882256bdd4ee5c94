// Package pusher writes arriving (range, bytes) chunks to disk in any
// order and finalizes the on-disk artifact, with a bounded internal queue
// providing backpressure.
package pusher

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tachyon-dl/tachyon-core/internal/filesystem"
	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

// job is one queued (range, bytes) push.
type job struct {
	offset int64
	data   []byte
	done   chan error
}

// queue is the bounded-capacity, single-consumer write queue shared by
// both pusher variants; push suspends the caller when the queue is full.
type queue struct {
	ch     chan job
	writer func(offset int64, data []byte) error

	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	flushWG sync.WaitGroup
}

func newQueue(cap int, writer func(int64, []byte) error) *queue {
	q := &queue{ch: make(chan job, cap), writer: writer}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *queue) run() {
	defer q.wg.Done()
	for j := range q.ch {
		err := q.writer(j.offset, j.data)
		j.done <- err
		close(j.done)
		q.flushWG.Done()
	}
}

// push enqueues one write, blocking if the queue is full (backpressure).
func (q *queue) push(offset int64, data []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("pusher: push after finalize")
	}
	q.flushWG.Add(1)
	q.mu.Unlock()

	done := make(chan error, 1)
	q.ch <- job{offset: offset, data: data, done: done}
	return <-done
}

// flush waits for all accepted pushes to have been written.
func (q *queue) flush() {
	q.flushWG.Wait()
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.ch)
	q.wg.Wait()
}

// MappedPusher memory-maps the target file at its known total length and
// writes directly into the mapping. Valid only when totalSize is known.
type MappedPusher struct {
	file *os.File
	mmap mmapping
	q    *queue
}

// NewMapped allocates/extends path to totalSize, maps it, and returns a
// ready pusher backed by a write_queue_cap-bounded queue.
func NewMapped(path string, totalSize int64, queueCap int) (*MappedPusher, error) {
	alloc := filesystem.NewAllocator()
	if err := alloc.Allocate(path, totalSize); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("pusher: opening %s: %w", path, err)
	}

	m, err := mapFile(f, totalSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pusher: mapping %s: %w", path, err)
	}

	p := &MappedPusher{file: f, mmap: m}
	p.q = newQueue(queueCap, p.writeAt)
	return p, nil
}

func (p *MappedPusher) writeAt(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > int64(len(p.mmap.bytes())) {
		return fmt.Errorf("pusher: write [%d,%d) out of bounds", offset, offset+int64(len(data)))
	}
	copy(p.mmap.bytes()[offset:], data)
	return nil
}

// Push writes data at r.Start, copying into the mapping. Overlapping
// pushes of identical content (from speculative duplication) are
// idempotent by construction: both copy the same bytes to the same
// offsets.
func (p *MappedPusher) Push(r rangeset.Range, data []byte) error {
	return p.q.push(r.Start, data)
}

// Flush waits for all accepted pushes to land in the mapping, then
// msyncs it to disk.
func (p *MappedPusher) Flush() error {
	p.q.flush()
	return p.mmap.sync()
}

// Finalize drains, flushes, unmaps and closes the file handle.
func (p *MappedPusher) Finalize() error {
	p.q.close()
	if err := p.mmap.sync(); err != nil {
		return err
	}
	if err := p.mmap.unmap(); err != nil {
		return err
	}
	return p.file.Close()
}

// BufferedPusher owns a positioned file handle and issues WriteAt calls
// from a single consumer goroutine, used when the configured write method
// is Buffered.
type BufferedPusher struct {
	file *os.File
	q    *queue
}

// NewBuffered opens (creating if needed) path for positioned writes.
// When totalSize > 0 the file is pre-extended like the mapped variant, to
// get the same disk-space preflight and reduce fragmentation.
func NewBuffered(path string, totalSize int64, queueCap int) (*BufferedPusher, error) {
	alloc := filesystem.NewAllocator()
	if totalSize > 0 {
		if err := alloc.Allocate(path, totalSize); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("pusher: opening %s: %w", path, err)
	}

	p := &BufferedPusher{file: f}
	p.q = newQueue(queueCap, p.writeAt)
	return p, nil
}

func (p *BufferedPusher) writeAt(offset int64, data []byte) error {
	_, err := p.file.WriteAt(data, offset)
	return err
}

// Push enqueues a positioned write at r.Start.
func (p *BufferedPusher) Push(r rangeset.Range, data []byte) error {
	return p.q.push(r.Start, data)
}

// Flush waits for queued writes to complete then fsyncs.
func (p *BufferedPusher) Flush() error {
	p.q.flush()
	return p.file.Sync()
}

// Finalize drains, flushes and closes the file handle.
func (p *BufferedPusher) Finalize() error {
	p.q.close()
	if err := p.file.Sync(); err != nil {
		return err
	}
	return p.file.Close()
}

// SeqPusher appends a monotonic stream and refuses non-contiguous writes,
// used by the single-stream engine.
type SeqPusher struct {
	file   *os.File
	offset int64
	mu     sync.Mutex
}

// NewSeq opens path for sequential appended writes starting at 0.
func NewSeq(path string) (*SeqPusher, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("pusher: opening %s: %w", path, err)
	}
	return &SeqPusher{file: f}, nil
}

// Push appends data, which must start exactly at the current write
// offset.
func (p *SeqPusher) Push(r rangeset.Range, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Start != p.offset {
		return fmt.Errorf("pusher: non-contiguous write at %d, expected %d", r.Start, p.offset)
	}
	n, err := p.file.Write(data)
	p.offset += int64(n)
	return err
}

// Offset reports the current write cursor.
func (p *SeqPusher) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// Reset truncates the file and rewinds the write cursor to 0, used by the
// single-stream engine when a retry restarts the pull from byte 0.
func (p *SeqPusher) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Truncate(0); err != nil {
		return fmt.Errorf("pusher: resetting: %w", err)
	}
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pusher: resetting: %w", err)
	}
	p.offset = 0
	return nil
}

// Flush fsyncs the file.
func (p *SeqPusher) Flush() error {
	return p.file.Sync()
}

// Finalize flushes and closes.
func (p *SeqPusher) Finalize() error {
	if err := p.file.Sync(); err != nil {
		return err
	}
	return p.file.Close()
}
