package testutil

import (
	"context"
	"fmt"
	"sync"

	"pdrb/internal/pdr"
)

// MemoryRecordStore is an in-memory pdr.RecordStore with failure injection.
// Records are kept in insertion order. Safe for concurrent use.
type MemoryRecordStore struct {
	mu      sync.Mutex
	nextID  int64
	records []pdr.Record

	// FindErr fails Find for a category.
	FindErr map[pdr.Category]error
	// InsertErr, when set, is consulted before every insert.
	InsertErr func(r pdr.Record) error
	// DeleteErr, when set, is consulted before every delete.
	DeleteErr func(id int64) error

	Inserts int
	Deletes int
}

// NewMemoryRecordStore creates a store holding seed, with IDs assigned from 1.
func NewMemoryRecordStore(seed ...pdr.Record) *MemoryRecordStore {
	s := &MemoryRecordStore{FindErr: make(map[pdr.Category]error)}
	for _, r := range seed {
		s.nextID++
		r.ID = s.nextID
		s.records = append(s.records, r)
	}
	return s
}

func (s *MemoryRecordStore) Find(ctx context.Context, category pdr.Category) ([]pdr.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FindErr[category]; err != nil {
		return nil, err
	}

	var out []pdr.Record
	for _, r := range s.records {
		if c, ok := r.Category(); ok && c == category {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryRecordStore) Insert(ctx context.Context, r pdr.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		if err := s.InsertErr(r); err != nil {
			return 0, err
		}
	}
	if _, ok := r.Category(); !ok {
		return 0, fmt.Errorf("slug %q is not a personal data request", r.Slug)
	}

	s.nextID++
	r.ID = s.nextID
	s.records = append(s.records, r)
	s.Inserts++
	return r.ID, nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		if err := s.DeleteErr(id); err != nil {
			return err
		}
	}
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			s.Deletes++
			return nil
		}
	}
	return fmt.Errorf("record %d not found", id)
}

// All returns a copy of every stored record.
func (s *MemoryRecordStore) All() []pdr.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pdr.Record(nil), s.records...)
}

var _ pdr.RecordStore = (*MemoryRecordStore)(nil)

// MemorySettings is an in-memory pdr.SettingsStore.
type MemorySettings struct {
	mu    sync.Mutex
	cfg   pdr.ScheduleConfig
	Saves   int
	Cleared bool

	LoadErr  error
	SaveErr  error
	ClearErr error
}

// NewMemorySettings creates a settings store holding cfg.
func NewMemorySettings(cfg pdr.ScheduleConfig) *MemorySettings {
	return &MemorySettings{cfg: cfg}
}

func (s *MemorySettings) Load(ctx context.Context) (pdr.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return pdr.ScheduleConfig{}, s.LoadErr
	}
	return s.cfg, nil
}

func (s *MemorySettings) Save(ctx context.Context, cfg pdr.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.cfg = cfg
	s.Saves++
	return nil
}

// Clear resets the stored config to the defaults a fresh options table loads as.
func (s *MemorySettings) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.cfg = pdr.ScheduleConfig{RetainFilesAfterUninstall: true}
	s.Cleared = true
	return nil
}

// Set replaces the stored config without counting a save.
func (s *MemorySettings) Set(cfg pdr.ScheduleConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

var _ pdr.SettingsStore = (*MemorySettings)(nil)
