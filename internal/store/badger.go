package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
)

// Key layout:
//
//	rec:<id>                         record JSON
//	ts:<rev-nanos>:<id>              newest-first time index
//	actor:<actor>\x00<rev-nanos>:<id> per-actor time index
//
// Every key carries a TTL ending at the record's expiresAt, so Badger
// expires the record and its index entries together.
const (
	recordPrefix = "rec:"
	timePrefix   = "ts:"
	actorPrefix  = "actor:"
)

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db     *badger.DB
	log    logger.Logger
	stopGC chan struct{}
	now    func() time.Time
}

// NewBadgerStore opens (or creates) a BadgerDB directory.
func NewBadgerStore(dataDir string, syncWrites bool, gcInterval time.Duration, log logger.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = syncWrites
	opts.Logger = nil
	opts.ValueLogFileSize = 64 << 20
	opts.MemTableSize = 64 << 20
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 10

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		log:    log,
		stopGC: make(chan struct{}),
		now:    time.Now,
	}

	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}
	go s.runGarbageCollection(gcInterval)

	return s, nil
}

func (s *BadgerStore) Name() string { return "badger" }

func (s *BadgerStore) runGarbageCollection(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				s.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		case <-s.stopGC:
			return
		}
	}
}

func revNanos(t time.Time) string {
	return fmt.Sprintf("%020d", math.MaxInt64-t.UnixNano())
}

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

func timeKey(rec *audit.Record) []byte {
	return []byte(timePrefix + revNanos(rec.Timestamp) + ":" + rec.ID)
}

func actorIndexPrefix(actorID string) []byte {
	return []byte(actorPrefix + actorID + "\x00")
}

func actorKey(rec *audit.Record) []byte {
	return append(actorIndexPrefix(rec.ActorID()), []byte(revNanos(rec.Timestamp)+":"+rec.ID)...)
}

// ttlFor returns the remaining lifetime, or zero for records without expiry.
func (s *BadgerStore) ttlFor(rec *audit.Record) (time.Duration, bool) {
	if rec.ExpiresAt.IsZero() {
		return 0, true
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

func (s *BadgerStore) entries(rec *audit.Record) ([]*badger.Entry, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	ttl, live := s.ttlFor(rec)
	if !live {
		return nil, nil
	}
	withTTL := func(e *badger.Entry) *badger.Entry {
		if ttl > 0 {
			return e.WithTTL(ttl)
		}
		return e
	}
	out := []*badger.Entry{
		withTTL(badger.NewEntry(recordKey(rec.ID), data)),
		withTTL(badger.NewEntry(timeKey(rec), nil)),
	}
	if rec.ActorID() != "" {
		out = append(out, withTTL(badger.NewEntry(actorKey(rec), nil)))
	}
	return out, nil
}

func (s *BadgerStore) Insert(_ context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	entries, err := s.entries(rec)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(rec.ID)); err == nil {
			return &audit.ValidationError{Field: "id", Message: "record already exists"}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		for _, e := range entries {
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func readRecord(txn *badger.Txn, id string) (*audit.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &audit.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	var rec audit.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*audit.Record, error) {
	var rec *audit.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	})
	return rec, err
}

// idFromIndexKey extracts the record id after the last ':' of an index key.
func idFromIndexKey(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return string(key[i+1:])
		}
	}
	return ""
}

// walk iterates an index newest first and yields decoded matching records.
// When the filter has a lower time bound the walk stops once it is passed.
func (s *BadgerStore) walk(ctx context.Context, f audit.Filter, seekFrom time.Time, fn func(*audit.Record) error) error {
	prefix := []byte(timePrefix)
	if f.ActorID != "" {
		prefix = actorIndexPrefix(f.ActorID)
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if !seekFrom.IsZero() {
			start = append(append([]byte{}, prefix...), []byte(revNanos(seekFrom))...)
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := readRecord(txn, idFromIndexKey(it.Item().KeyCopy(nil)))
			if audit.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
				return nil
			}
			if !f.Matches(rec) {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error {
	return s.walk(ctx, f, f.To, fn)
}

func (s *BadgerStore) Find(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Record, int64, error) {
	return findBySnapshot(ctx, f, p, func(f audit.Filter) ([]*audit.Record, error) {
		out := make([]*audit.Record, 0)
		err := s.Scan(ctx, f, func(rec *audit.Record) error {
			out = append(out, rec)
			return nil
		})
		return out, err
	})
}

func (s *BadgerStore) Update(_ context.Context, id string, fn func(*audit.Record) error) (*audit.Record, error) {
	var updated *audit.Record
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, fn)
		if err != nil {
			return err
		}
		entries, err := s.entries(next)
		if err != nil {
			return err
		}
		if entries == nil {
			return &audit.NotFoundError{ID: id}
		}
		if err := txn.SetEntry(entries[0]); err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

// collectOlder returns the records with timestamp strictly before cutoff.
func (s *BadgerStore) collectOlder(ctx context.Context, cutoff time.Time, keep func(*audit.Record) bool) ([]*audit.Record, error) {
	var out []*audit.Record
	seek := cutoff.Add(-time.Nanosecond)
	err := s.walk(ctx, audit.Filter{}, seek, func(rec *audit.Record) error {
		if rec.Timestamp.Before(cutoff) && keep(rec) {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	recs, err := s.collectOlder(ctx, cutoff, func(r *audit.Record) bool { return !r.Flags.IsArchived })
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var n int64
	for _, rec := range recs {
		rec.Flags.IsArchived = true
		entries, err := s.entries(rec)
		if err != nil {
			return n, err
		}
		if entries == nil {
			continue
		}
		if err := wb.SetEntry(entries[0]); err != nil {
			return n, err
		}
		n++
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to archive records: %w", err)
	}
	return n, nil
}

func (s *BadgerStore) DeleteArchivedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	recs, err := s.collectOlder(ctx, cutoff, func(r *audit.Record) bool { return r.Flags.IsArchived })
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, rec := range recs {
		keys := [][]byte{recordKey(rec.ID), timeKey(rec)}
		if rec.ActorID() != "" {
			keys = append(keys, actorKey(rec))
		}
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				return 0, err
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	return int64(len(recs)), nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return audit.ErrStoreClosed
	}
	return nil
}

// Count returns the number of live records.
func (s *BadgerStore) Count() (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

// Backup writes a full Badger backup stream to path.
func (s *BadgerStore) Backup(path string) (uint64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	version, err := s.db.Backup(file, 0)
	if err != nil {
		return 0, fmt.Errorf("backup failed: %w", err)
	}
	s.log.Info("Backup completed successfully",
		logger.String("path", path),
		logger.String("version", strconv.FormatUint(version, 10)))
	return version, nil
}
