// Package taskstore implements a keyed task-record store read and written
// by the entry point, with an optional gorm + glebarez/sqlite
// persistence adapter so tasks survive a restart.
package taskstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Record is the durable state needed to resume, display progress for,
// and reorder a download.
type Record struct {
	ID           string `gorm:"primaryKey"`
	URL          string
	FileName     string
	FilePath     string
	FileSize     int64
	ETag         string
	LastModified string

	ProgressJSON string `gorm:"column:progress_json"` // serialized []rangeset.Range
	ElapsedNanos int64  `gorm:"column:elapsed_nanos"`

	Status     Status `gorm:"index"`
	Priority   int
	Host       string
	QueueOrder int `gorm:"index"`

	HeadersJSON   string `gorm:"column:headers_json"`
	ExpectedHash  string
	HashAlgorithm string

	StartAt *time.Time
	LastErr string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the gorm table name explicitly rather than relying on
// pluralization of the struct name.
func (Record) TableName() string { return "download_tasks" }

// Progress decodes the record's serialized byte coverage.
func (r *Record) Progress() []rangeset.Range {
	if r.ProgressJSON == "" {
		return nil
	}
	var ranges []rangeset.Range
	_ = json.Unmarshal([]byte(r.ProgressJSON), &ranges)
	return ranges
}

// SetProgress encodes ranges into the record's ProgressJSON field.
func (r *Record) SetProgress(ranges []rangeset.Range) {
	b, _ := json.Marshal(ranges)
	r.ProgressJSON = string(b)
}

// Elapsed returns the cumulative active download time recorded so far.
func (r *Record) Elapsed() time.Duration {
	return time.Duration(r.ElapsedNanos)
}

// SetElapsed stores the cumulative active download time.
func (r *Record) SetElapsed(d time.Duration) {
	r.ElapsedNanos = int64(d)
}

// Headers decodes the record's serialized request headers.
func (r *Record) Headers() map[string]string {
	if r.HeadersJSON == "" {
		return nil
	}
	var h map[string]string
	_ = json.Unmarshal([]byte(r.HeadersJSON), &h)
	return h
}

// SetHeaders encodes headers into the record's HeadersJSON field.
func (r *Record) SetHeaders(h map[string]string) {
	b, _ := json.Marshal(h)
	r.HeadersJSON = string(b)
}

// Store is the in-memory index of task records, optionally mirrored to a
// gorm-backed sqlite database for durability across restarts.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	db      *gorm.DB
}

// New returns a purely in-memory Store (no persistence).
func New() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Open returns a Store backed by a sqlite database at path, loading any
// previously-persisted records.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("taskstore: opening %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("taskstore: migrating: %w", err)
	}

	s := &Store{records: make(map[string]*Record), db: db}
	var existing []Record
	if err := db.Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("taskstore: loading records: %w", err)
	}
	for i := range existing {
		s.records[existing[i].ID] = &existing[i]
	}
	return s, nil
}

// Put inserts or updates a record, persisting it if a database is attached.
func (s *Store) Put(r *Record) error {
	s.mu.Lock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = time.Now()
	s.records[r.ID] = r
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Save(r).Error
	}
	return nil
}

// Get returns the record for id, and whether it was found.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Delete removes a record from the store and, if attached, the database.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Delete(&Record{}, "id = ?", id).Error
	}
	return nil
}

// List returns every record ordered by QueueOrder, matching the display
// order a supervisor should dispatch pending tasks in.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueOrder < out[j].QueueOrder })
	return out
}

// reorder renumbers QueueOrder sequentially from the given slice and
// persists every touched record.
func (s *Store) reorder(ordered []*Record) error {
	for i, r := range ordered {
		r.QueueOrder = i
		if err := s.Put(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) indexOf(ordered []*Record, id string) int {
	for i, r := range ordered {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// MoveToFirst moves id to the front of the queue.
func (s *Store) MoveToFirst(id string) error {
	ordered := s.List()
	i := s.indexOf(ordered, id)
	if i <= 0 {
		return nil
	}
	r := ordered[i]
	ordered = append(ordered[:i], ordered[i+1:]...)
	ordered = append([]*Record{r}, ordered...)
	return s.reorder(ordered)
}

// MoveToLast moves id to the back of the queue.
func (s *Store) MoveToLast(id string) error {
	ordered := s.List()
	i := s.indexOf(ordered, id)
	if i < 0 || i == len(ordered)-1 {
		return nil
	}
	r := ordered[i]
	ordered = append(ordered[:i], ordered[i+1:]...)
	ordered = append(ordered, r)
	return s.reorder(ordered)
}

// MovePrev swaps id one position earlier in the queue.
func (s *Store) MovePrev(id string) error {
	ordered := s.List()
	i := s.indexOf(ordered, id)
	if i <= 0 {
		return nil
	}
	ordered[i-1], ordered[i] = ordered[i], ordered[i-1]
	return s.reorder(ordered)
}

// MoveNext swaps id one position later in the queue.
func (s *Store) MoveNext(id string) error {
	ordered := s.List()
	i := s.indexOf(ordered, id)
	if i < 0 || i == len(ordered)-1 {
		return nil
	}
	ordered[i+1], ordered[i] = ordered[i], ordered[i+1]
	return s.reorder(ordered)
}
