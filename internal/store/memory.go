package store

import (
	"context"
	"sync"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
)

// MemoryStore keeps records in a map. Expired records are invisible to reads
// and removed by PruneExpired.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*audit.Record
	closed  bool
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*audit.Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Insert(_ context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return audit.ErrStoreClosed
	}
	if _, exists := m.records[rec.ID]; exists {
		return &audit.ValidationError{Field: "id", Message: "record already exists"}
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, audit.ErrStoreClosed
	}
	rec, ok := m.records[id]
	if !ok || expired(rec, m.now()) {
		return nil, &audit.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// snapshot returns live, matching copies sorted newest first.
func (m *MemoryStore) snapshot(f audit.Filter) ([]*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, audit.ErrStoreClosed
	}
	now := m.now()
	out := make([]*audit.Record, 0)
	for _, rec := range m.records {
		if expired(rec, now) || !f.Matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	audit.SortRecords(out, audit.SortNewest)
	return out, nil
}

func (m *MemoryStore) Find(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Record, int64, error) {
	return findBySnapshot(ctx, f, p, m.snapshot)
}

func (m *MemoryStore) Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error {
	recs, err := m.snapshot(f)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*audit.Record) error) (*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, audit.ErrStoreClosed
	}
	current, ok := m.records[id]
	if !ok || expired(current, m.now()) {
		return nil, &audit.NotFoundError{ID: id}
	}
	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ArchiveOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, audit.ErrStoreClosed
	}
	var n int64
	for _, rec := range m.records {
		if rec.Timestamp.Before(cutoff) && !rec.Flags.IsArchived {
			rec.Flags.IsArchived = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteArchivedOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, audit.ErrStoreClosed
	}
	var n int64
	for id, rec := range m.records {
		if rec.Flags.IsArchived && rec.Timestamp.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// PruneExpired drops every record whose expiry has passed.
func (m *MemoryStore) PruneExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if expired(rec, now) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return audit.ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// findBySnapshot sorts and pages an in-process result set.
func findBySnapshot(ctx context.Context, f audit.Filter, p audit.Page, snapshot func(audit.Filter) ([]*audit.Record, error)) ([]*audit.Record, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	p = p.Normalize()
	recs, err := snapshot(f)
	if err != nil {
		return nil, 0, err
	}
	if p.Sort != audit.SortNewest {
		audit.SortRecords(recs, p.Sort)
	}
	return audit.Paginate(recs, p), int64(len(recs)), nil
}
