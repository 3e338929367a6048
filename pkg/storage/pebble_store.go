package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/pipeline"
)

// PebbleStore journals execution reports and parent snapshots. It is an
// audit trail; the pipeline never reads it back.
type PebbleStore struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	return open(path, &pebble.Options{})
}

// NewMemPebbleStore keeps everything in memory.
func NewMemPebbleStore() (*PebbleStore, error) {
	return open("journal", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s := &PebbleStore{db: db}
	if err := s.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// recoverSeq continues numbering after the last journaled report.
func (s *PebbleStore) recoverSeq() error {
	prefix := []byte(prefixLog)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	defer iter.Close()
	if iter.Last() {
		if seq, ok := seqFromLogKey(iter.Key()); ok {
			s.seq.Store(seq)
		}
	}
	return nil
}

// SaveReport writes r under its parent and in the global log in one batch.
func (s *PebbleStore) SaveReport(r core.ExecutionReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	seq := s.seq.Add(1)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(reportKey(r.ParentID, seq), data, nil); err != nil {
		return err
	}
	if err := b.Set(logKey(seq), data, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Publish lets the store sit behind the report publisher.
func (s *PebbleStore) Publish(r core.ExecutionReport) error { return s.SaveReport(r) }

// LoadReports returns a parent's reports in the order they were saved.
func (s *PebbleStore) LoadReports(parentID string) ([]core.ExecutionReport, error) {
	prefix := reportPrefix(parentID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []core.ExecutionReport
	for iter.First(); iter.Valid(); iter.Next() {
		var r core.ExecutionReport
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report %q: %w", iter.Key(), err)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadRecentReports returns up to limit reports, newest first.
func (s *PebbleStore) LoadRecentReports(limit int) ([]core.ExecutionReport, error) {
	prefix := []byte(prefixLog)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []core.ExecutionReport
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var r core.ExecutionReport
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report %q: %w", iter.Key(), err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PebbleStore) SaveParent(st oms.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal parent: %w", err)
	}
	if err := s.db.Set(parentKey(st.ParentID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save parent: %w", err)
	}
	return nil
}

// LoadParent returns false if the parent was never saved.
func (s *PebbleStore) LoadParent(parentID string) (oms.State, bool, error) {
	data, closer, err := s.db.Get(parentKey(parentID))
	if errors.Is(err, pebble.ErrNotFound) {
		return oms.State{}, false, nil
	}
	if err != nil {
		return oms.State{}, false, fmt.Errorf("failed to get parent: %w", err)
	}
	defer closer.Close()

	var st oms.State
	if err := json.Unmarshal(data, &st); err != nil {
		return oms.State{}, false, fmt.Errorf("failed to unmarshal parent: %w", err)
	}
	return st, true, nil
}

var _ pipeline.Sink = (*PebbleStore)(nil)
var _ pipeline.ParentJournal = (*PebbleStore)(nil)
