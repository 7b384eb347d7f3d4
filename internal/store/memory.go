package store

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cabb/almabatch/internal/record"
)

// Calls counts the requests a Memory store has served.
type Calls struct {
	ListMembers int
	FetchBatch  int
	FetchOne    int
	WriteOne    int
}

// Memory is an in-memory RecordStore. Documents are held as bytes, so
// every fetch returns an independent Record.
//
// The Fail hooks inject failures; a nil hook never fails.
type Memory struct {
	// FailList is consulted before each ListMembers call.
	FailList func(setID string, offset int) error

	// FailFetch is consulted before each FetchBatch call with the 1-based
	// call number.
	FailFetch func(call int, ids []string) error

	// FailWrite is consulted before each WriteOne call.
	FailWrite func(id string) error

	mu     sync.Mutex
	docs   map[string][]byte
	sets   map[string][]string
	totals map[string]int
	calls  Calls
	writes []string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string][]byte),
		sets:   make(map[string][]string),
		totals: make(map[string]int),
	}
}

// Put stores a document under id.
func (m *Memory) Put(id string, doc []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = append([]byte(nil), doc...)
}

// Doc returns the stored document for id.
func (m *Memory) Doc(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

// Delete drops the document for id so fetches report it absent.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

// SetMembers defines a set. The reported total is len(ids) unless
// overridden with SetReportedTotal.
func (m *Memory) SetMembers(setID string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[setID] = append([]string(nil), ids...)
	delete(m.totals, setID)
}

// SetReportedTotal makes ListMembers report total regardless of the set's
// real size.
func (m *Memory) SetReportedTotal(setID string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[setID] = total
}

// Calls returns the request counts so far.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Writes returns the identifiers written, in order.
func (m *Memory) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// ListMembers implements RecordStore.
func (m *Memory) ListMembers(ctx context.Context, setID string, offset, limit int) (MemberPage, error) {
	if err := ctx.Err(); err != nil {
		return MemberPage{}, err
	}
	m.mu.Lock()
	m.calls.ListMembers++
	members, ok := m.sets[setID]
	total, overridden := m.totals[setID]
	m.mu.Unlock()

	if m.FailList != nil {
		if err := m.FailList(setID, offset); err != nil {
			return MemberPage{}, err
		}
	}
	if !ok {
		return MemberPage{}, &StatusError{Op: "list members", Status: http.StatusBadRequest, Message: "set " + setID + " does not exist"}
	}
	if !overridden {
		total = len(members)
	}

	page := MemberPage{Total: total}
	if offset < len(members) {
		end := min(offset+limit, len(members))
		page.Members = append([]string(nil), members[offset:end]...)
	}
	return page, nil
}

// FetchBatch implements RecordStore.
func (m *Memory) FetchBatch(ctx context.Context, ids []string) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls.FetchBatch++
	call := m.calls.FetchBatch
	m.mu.Unlock()

	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("fetch batch: %w: got %d", ErrBatchTooLarge, len(ids))
	}
	if m.FailFetch != nil {
		if err := m.FailFetch(call, ids); err != nil {
			return nil, err
		}
	}

	out := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		doc, ok := m.Doc(id)
		if !ok {
			continue
		}
		rec, err := record.Parse(id, doc)
		if err != nil {
			return nil, fmt.Errorf("fetch batch: decoding %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchOne implements RecordStore.
func (m *Memory) FetchOne(ctx context.Context, id string) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls.FetchOne++
	m.mu.Unlock()

	doc, ok := m.Doc(id)
	if !ok {
		return nil, &StatusError{Op: "fetch " + id, Status: http.StatusNotFound}
	}
	return record.Parse(id, doc)
}

// WriteOne implements RecordStore.
func (m *Memory) WriteOne(ctx context.Context, id string, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls.WriteOne++
	m.mu.Unlock()

	if m.FailWrite != nil {
		if err := m.FailWrite(id); err != nil {
			return err
		}
	}
	doc, err := rec.Marshal()
	if err != nil {
		return err
	}
	m.Put(id, doc)

	m.mu.Lock()
	m.writes = append(m.writes, id)
	m.mu.Unlock()
	return nil
}
