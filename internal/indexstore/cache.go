package indexstore

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// internCaches front the path/name/scope interning tables with bounded LRU
// maps in both directions. They are populated only from read-only
// transactions: a lookup inside an open read-write transaction can observe
// that transaction's own uncommitted interns, and caching those would
// outlive a rollback. Read-only views only ever see committed rows, so
// nothing cached here can reference an ID the database doesn't hold.
type internCaches struct {
	pathByString  *lru.Cache[string, uint64]
	pathByID      *lru.Cache[uint64, string]
	nameByString  *lru.Cache[string, uint64]
	nameByID      *lru.Cache[uint64, string]
	scopeByString *lru.Cache[string, uint64]
	scopeByID     *lru.Cache[uint64, string]
}

func newInternCaches(size int) (*internCaches, error) {
	c := &internCaches{}
	var err error
	if c.pathByString, err = lru.New[string, uint64](size); err != nil {
		return nil, err
	}
	if c.pathByID, err = lru.New[uint64, string](size); err != nil {
		return nil, err
	}
	if c.nameByString, err = lru.New[string, uint64](size); err != nil {
		return nil, err
	}
	if c.nameByID, err = lru.New[uint64, string](size); err != nil {
		return nil, err
	}
	if c.scopeByString, err = lru.New[string, uint64](size); err != nil {
		return nil, err
	}
	if c.scopeByID, err = lru.New[uint64, string](size); err != nil {
		return nil, err
	}
	return c, nil
}

// table selects one interning direction pair.
type internTable int

const (
	tablePaths internTable = iota
	tableNames
	tableScopes
)

func (c *internCaches) byString(t internTable) *lru.Cache[string, uint64] {
	switch t {
	case tablePaths:
		return c.pathByString
	case tableNames:
		return c.nameByString
	default:
		return c.scopeByString
	}
}

func (c *internCaches) byID(t internTable) *lru.Cache[uint64, string] {
	switch t {
	case tablePaths:
		return c.pathByID
	case tableNames:
		return c.nameByID
	default:
		return c.scopeByID
	}
}

// remember records a committed (id, s) pair in both directions.
func (c *internCaches) remember(t internTable, id uint64, s string) {
	c.byString(t).Add(s, id)
	c.byID(t).Add(id, s)
}
