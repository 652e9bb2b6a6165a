package bookings

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used for local development and tests.
// Writes are buffered per transaction and applied at commit, where unique
// external ids are enforced the same way the database does.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[Category]map[int64]*Record
	customers map[int64]*Customer

	// OnInsertCommit runs before a transaction that inserts rows applies its
	// writes. Tests use it to line up concurrent writers.
	OnInsertCommit func()
	// Fail, when set, is consulted before each operation ("begin", "get",
	// "insert", "update", "delete", "commit") and may inject an error.
	Fail func(op string) error
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records:   make(map[Category]map[int64]*Record),
		customers: make(map[int64]*Customer),
	}
	for _, c := range Categories() {
		s.records[c] = make(map[int64]*Record)
	}
	return s
}

// Begin opens a transaction.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.fail("begin"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &memoryTx{store: s}, nil
}

// Put stores rec directly, bypassing transactions.
func (s *MemoryStore) Put(category Category, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[category][rec.ExternalID] = rec.Clone()
}

// PutCustomer stores c directly, bypassing transactions.
func (s *MemoryStore) PutCustomer(c *Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ExternalID] = c.Clone()
}

// Record returns a copy of the committed row.
func (s *MemoryStore) Record(category Category, externalID int64) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[category][externalID]
	return rec.Clone(), ok
}

// Customer returns a copy of the committed customer.
func (s *MemoryStore) Customer(externalID int64) (*Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[externalID]
	return c.Clone(), ok
}

// Count returns the number of committed rows in a category.
func (s *MemoryStore) Count(category Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[category])
}

func (s *MemoryStore) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type memoryOp struct {
	kind       opKind
	category   Category
	externalID int64
	record     *Record
	customer   *Customer
}

type memoryTx struct {
	store *MemoryStore
	ops   []memoryOp
	done  bool
}

func (t *memoryTx) check(op string) error {
	if t.done {
		return ErrTxDone
	}
	return t.store.fail(op)
}

// view replays this transaction's buffered writes over the committed row.
func (t *memoryTx) view(category Category, externalID int64) (*Record, bool) {
	t.store.mu.Lock()
	rec, ok := t.store.records[category][externalID]
	t.store.mu.Unlock()
	for _, op := range t.ops {
		if op.customer != nil || op.category != category || op.externalID != externalID {
			continue
		}
		switch op.kind {
		case opInsert, opUpdate:
			rec, ok = op.record, true
		case opDelete:
			rec, ok = nil, false
		}
	}
	return rec.Clone(), ok
}

func (t *memoryTx) customerView(externalID int64) (*Customer, bool) {
	t.store.mu.Lock()
	c, ok := t.store.customers[externalID]
	t.store.mu.Unlock()
	for _, op := range t.ops {
		if op.customer != nil && op.customer.ExternalID == externalID {
			c, ok = op.customer, true
		}
	}
	return c.Clone(), ok
}

func (t *memoryTx) GetRecord(_ context.Context, category Category, externalID int64) (*Record, error) {
	if err := t.check("get"); err != nil {
		return nil, err
	}
	if _, err := StrategyFor(category); err != nil {
		return nil, err
	}
	rec, ok := t.view(category, externalID)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (t *memoryTx) InsertRecord(_ context.Context, category Category, rec *Record) error {
	if err := t.check("insert"); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := t.view(category, rec.ExternalID); ok {
		return fmt.Errorf("%w: %s %d", ErrUniqueViolation, category, rec.ExternalID)
	}
	t.ops = append(t.ops, memoryOp{kind: opInsert, category: category, externalID: rec.ExternalID, record: rec.Clone()})
	return nil
}

func (t *memoryTx) UpdateRecord(_ context.Context, category Category, rec *Record) error {
	if err := t.check("update"); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := t.view(category, rec.ExternalID); !ok {
		return ErrNotFound
	}
	t.ops = append(t.ops, memoryOp{kind: opUpdate, category: category, externalID: rec.ExternalID, record: rec.Clone()})
	return nil
}

func (t *memoryTx) DeleteRecord(_ context.Context, category Category, externalID int64) error {
	if err := t.check("delete"); err != nil {
		return err
	}
	if _, ok := t.view(category, externalID); !ok {
		return ErrNotFound
	}
	t.ops = append(t.ops, memoryOp{kind: opDelete, category: category, externalID: externalID})
	return nil
}

func (t *memoryTx) GetCustomer(_ context.Context, externalID int64) (*Customer, error) {
	if err := t.check("get"); err != nil {
		return nil, err
	}
	c, ok := t.customerView(externalID)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (t *memoryTx) InsertCustomer(_ context.Context, c *Customer) error {
	if err := t.check("insert"); err != nil {
		return err
	}
	if _, ok := t.customerView(c.ExternalID); ok {
		return fmt.Errorf("%w: customer %d", ErrUniqueViolation, c.ExternalID)
	}
	t.ops = append(t.ops, memoryOp{kind: opInsert, externalID: c.ExternalID, customer: c.Clone()})
	return nil
}

func (t *memoryTx) UpdateCustomer(_ context.Context, c *Customer) error {
	if err := t.check("update"); err != nil {
		return err
	}
	t.ops = append(t.ops, memoryOp{kind: opUpdate, externalID: c.ExternalID, customer: c.Clone()})
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if err := t.check("commit"); err != nil {
		t.done = true
		return err
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if t.store.OnInsertCommit != nil && t.hasInsert() {
		t.store.OnInsertCommit()
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range t.ops {
		if op.kind != opInsert {
			continue
		}
		if op.customer != nil {
			if _, exists := s.customers[op.externalID]; exists {
				return fmt.Errorf("%w: customer %d", ErrUniqueViolation, op.externalID)
			}
			continue
		}
		if _, exists := s.records[op.category][op.externalID]; exists {
			return fmt.Errorf("%w: %s %d", ErrUniqueViolation, op.category, op.externalID)
		}
	}
	for _, op := range t.ops {
		if op.customer != nil {
			s.customers[op.externalID] = op.customer
			continue
		}
		switch op.kind {
		case opInsert, opUpdate:
			s.records[op.category][op.externalID] = op.record
		case opDelete:
			delete(s.records[op.category], op.externalID)
		}
	}
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.ops = nil
	return nil
}

func (t *memoryTx) hasInsert() bool {
	for _, op := range t.ops {
		if op.kind == opInsert {
			return true
		}
	}
	return false
}
