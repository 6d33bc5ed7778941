package rowdiff

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/tordrt/syncforge/internal/schema"
)

// Row holds one row's values aligned with the cursor's Columns.
// Cursors must return a fresh slice for every row.
type Row []any

// Cursor yields the rows of one table in strictly ascending primary key order.
// Next returns io.EOF once the rows are exhausted.
type Cursor interface {
	Table() string
	Columns() []schema.Column
	PrimaryKey() []string
	Next(ctx context.Context) (Row, error)
	Close() error
}

var errCursorClosed = errors.New("cursor is closed")

// MemoryCursor serves rows from a slice
type MemoryCursor struct {
	table  *schema.Table
	rows   []Row
	pos    int
	closed bool
}

// NewMemoryCursor creates a cursor over rows already in key order
func NewMemoryCursor(table *schema.Table, rows []Row) *MemoryCursor {
	return &MemoryCursor{table: table, rows: rows}
}

func (c *MemoryCursor) Table() string            { return c.table.Name }
func (c *MemoryCursor) Columns() []schema.Column { return c.table.Columns }
func (c *MemoryCursor) PrimaryKey() []string     { return c.table.PrimaryKey }

// Next returns the next row
func (c *MemoryCursor) Next(ctx context.Context) (Row, error) {
	if c.closed {
		return nil, errCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, io.EOF
	}
	r := slices.Clone(c.rows[c.pos])
	c.pos++
	return r, nil
}

// Close releases the cursor
func (c *MemoryCursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close was called
func (c *MemoryCursor) Closed() bool {
	return c.closed
}

type fetched struct {
	row Row
	err error
}

// prefetchCursor reads one row ahead on its own goroutine so that source and
// target I/O overlap while the merge-join itself stays sequential.
type prefetchCursor struct {
	Cursor
	results chan fetched
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
}

// Prefetch wraps c with a single-row read-ahead buffer. Closing the returned
// cursor stops the reader and closes c.
func Prefetch(ctx context.Context, c Cursor) Cursor {
	ctx, cancel := context.WithCancel(ctx)
	p := &prefetchCursor{
		Cursor:  c,
		results: make(chan fetched, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *prefetchCursor) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.results)

	for {
		row, err := p.Cursor.Next(ctx)
		select {
		case p.results <- fetched{row: row, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the buffered row and lets the reader fetch the following one
func (p *prefetchCursor) Next(ctx context.Context) (Row, error) {
	select {
	case r, ok := <-p.results:
		if !ok {
			return nil, errCursorClosed
		}
		return r.row, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the reader and closes the wrapped cursor
func (p *prefetchCursor) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		p.err = p.Cursor.Close()
	})
	return p.err
}
