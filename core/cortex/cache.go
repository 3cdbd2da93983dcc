package cortex

import (
	"context"
	"database/sql"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultStmtCacheSize is the number of prepared statements kept per
// connection for parameterized Exec and Query calls.
const DefaultStmtCacheSize = 64

// stmtCache keeps prepared statements keyed by SQL text. Evicted statements
// are closed. Callers hold the connection lock.
type stmtCache struct {
	lru *lru.Cache
}

func newStmtCache(size int) (*stmtCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.NewWithEvict(size, func(_, value interface{}) {
		value.(*sql.Stmt).Close()
	})
	if err != nil {
		return nil, err
	}
	return &stmtCache{lru: c}, nil
}

func (c *stmtCache) get(ctx context.Context, conn *sql.Conn, query string) (*sql.Stmt, error) {
	if v, ok := c.lru.Get(query); ok {
		return v.(*sql.Stmt), nil
	}
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.lru.Add(query, stmt)
	return stmt, nil
}

func (c *stmtCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// purge closes every cached statement. Schema changes invalidate them.
func (c *stmtCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
