package rowdiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/tordrt/syncforge/internal/schema"
)

const (
	DefaultLargeValueThreshold = 1 << 20
	DefaultProgressEvery       = 10000
)

// Options tunes value comparison
type Options struct {
	// CaseInsensitiveText compares text columns with Unicode case folding.
	CaseInsensitiveText bool
	// IgnoreWhitespace collapses runs of whitespace before comparing text.
	IgnoreWhitespace bool
	// LargeValueHashThresholdBytes is the size above which non-key text and
	// binary values are replaced by a digest. Zero uses the default, a
	// negative value disables hashing.
	LargeValueHashThresholdBytes int64
	// MaxChangesBeforeAbort stops the comparison once more changes than this
	// have been found. Zero means no limit.
	MaxChangesBeforeAbort int
	// Columns limits the compared non-key columns. Empty compares every
	// column both sides share. Inserts still carry every shared column.
	Columns []string
	// Progress receives periodic snapshots. Sends never block.
	Progress      chan<- Progress
	ProgressEvery int
}

func (o Options) threshold() int64 {
	if o.LargeValueHashThresholdBytes == 0 {
		return DefaultLargeValueThreshold
	}
	return o.LargeValueHashThresholdBytes
}

// Progress is a point-in-time view of a running comparison
type Progress struct {
	Table      string
	SourceRows int64
	TargetRows int64
	Changes    int64
}

// Stats counts rows read and changes found
type Stats struct {
	SourceRows int64
	TargetRows int64
	Inserts    int64
	Updates    int64
	Deletes    int64
	Unchanged  int64
}

// Changes returns the total number of changes
func (s Stats) Changes() int64 {
	return s.Inserts + s.Updates + s.Deletes
}

type valueColumn struct {
	name   string
	typ    schema.ColumnType
	source int
	target int
}

type side struct {
	name    string
	cursor  Cursor
	cols    []schema.Column
	keyIdx  []int
	row     Row
	key     []any
	prevKey []any
	done    bool
	rows    *int64
}

// Comparator merge-joins a source and a target cursor. Rows present only in
// the source become inserts, rows present only in the target become deletes,
// and rows whose compared columns differ become updates.
type Comparator struct {
	table    string
	opts     Options
	src      side
	tgt      side
	keyCols  []schema.Column
	// shared holds the source positions of columns the target also has
	shared   []int
	values   []valueColumn
	primed   bool
	stats    Stats
	sinceLog int
	err      error
	closed   bool
	closeErr error
}

// NewComparator validates that both cursors describe the same table with the
// same primary key. On error both cursors are closed.
func NewComparator(source, target Cursor, opts Options) (*Comparator, error) {
	c, err := newComparator(source, target, opts)
	if err != nil {
		return nil, errors.Join(err, source.Close(), target.Close())
	}
	return c, nil
}

func newComparator(source, target Cursor, opts Options) (*Comparator, error) {
	table := source.Table()
	srcPK := source.PrimaryKey()
	tgtPK := target.PrimaryKey()
	if len(srcPK) == 0 {
		return nil, fmt.Errorf("%w: %s (source)", ErrNoPrimaryKey, table)
	}
	if len(tgtPK) == 0 {
		return nil, fmt.Errorf("%w: %s (target)", ErrNoPrimaryKey, table)
	}
	if !slices.Equal(srcPK, tgtPK) {
		return nil, fmt.Errorf("%w: %s has %v in source and %v in target", ErrKeyMismatch, table, srcPK, tgtPK)
	}

	srcCols := source.Columns()
	tgtCols := target.Columns()
	srcIdx := columnIndex(srcCols)
	tgtIdx := columnIndex(tgtCols)

	c := &Comparator{table: table, opts: opts}
	c.src = side{name: "source", cursor: source, cols: srcCols, rows: &c.stats.SourceRows}
	c.tgt = side{name: "target", cursor: target, cols: tgtCols, rows: &c.stats.TargetRows}

	for _, k := range srcPK {
		si, ok := srcIdx[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s source has no key column %s", ErrKeyMismatch, table, k)
		}
		ti, ok := tgtIdx[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s target has no key column %s", ErrKeyMismatch, table, k)
		}
		c.src.keyIdx = append(c.src.keyIdx, si)
		c.tgt.keyIdx = append(c.tgt.keyIdx, ti)
		c.keyCols = append(c.keyCols, srcCols[si])
	}

	for i, col := range srcCols {
		ti, ok := tgtIdx[col.Name]
		if !ok {
			continue
		}
		c.shared = append(c.shared, i)
		if slices.Contains(srcPK, col.Name) {
			continue
		}
		if len(opts.Columns) > 0 && !slices.Contains(opts.Columns, col.Name) {
			continue
		}
		c.values = append(c.values, valueColumn{name: col.Name, typ: col.Type, source: i, target: ti})
	}

	return c, nil
}

func columnIndex(cols []schema.Column) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c.Name] = i
	}
	return idx
}

// Table returns the compared table's name
func (c *Comparator) Table() string {
	return c.table
}

// Stats returns the counts so far
func (c *Comparator) Stats() Stats {
	return c.stats
}

// Next returns the next change, or io.EOF once both cursors are exhausted.
// After any error the comparator is finished and its cursors are closed.
func (c *Comparator) Next(ctx context.Context) (RowChange, error) {
	if c.err != nil {
		return RowChange{}, c.err
	}

	if !c.primed {
		c.primed = true
		if err := c.advance(ctx, &c.src); err != nil {
			return RowChange{}, c.fail(err)
		}
		if err := c.advance(ctx, &c.tgt); err != nil {
			return RowChange{}, c.fail(err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return RowChange{}, c.fail(cancelled(err))
		}

		var change RowChange
		switch {
		case c.src.done && c.tgt.done:
			c.fail(io.EOF)
			return RowChange{}, io.EOF
		case c.tgt.done:
			change = c.insert()
			if err := c.advance(ctx, &c.src); err != nil {
				return RowChange{}, c.fail(err)
			}
		case c.src.done:
			change = c.delete()
			if err := c.advance(ctx, &c.tgt); err != nil {
				return RowChange{}, c.fail(err)
			}
		default:
			cmp, err := compareKeys(c.keyTypes(), c.src.key, c.tgt.key)
			if err != nil {
				return RowChange{}, c.fail(fmt.Errorf("comparing keys of %s: %w", c.table, err))
			}
			switch {
			case cmp < 0:
				change = c.insert()
				if err := c.advance(ctx, &c.src); err != nil {
					return RowChange{}, c.fail(err)
				}
			case cmp > 0:
				change = c.delete()
				if err := c.advance(ctx, &c.tgt); err != nil {
					return RowChange{}, c.fail(err)
				}
			default:
				upd, changed := c.update()
				if err := c.advance(ctx, &c.src); err != nil {
					return RowChange{}, c.fail(err)
				}
				if err := c.advance(ctx, &c.tgt); err != nil {
					return RowChange{}, c.fail(err)
				}
				if !changed {
					c.stats.Unchanged++
					continue
				}
				change = upd
			}
		}

		switch change.Kind {
		case Insert:
			c.stats.Inserts++
		case Update:
			c.stats.Updates++
		case Delete:
			c.stats.Deletes++
		}
		if limit := c.opts.MaxChangesBeforeAbort; limit > 0 && c.stats.Changes() > int64(limit) {
			return RowChange{}, c.fail(fmt.Errorf("%w: %s has more than %d changes", ErrChangeLimitExceeded, c.table, limit))
		}
		return change, nil
	}
}

func (c *Comparator) keyTypes() []schema.ColumnType {
	types := make([]schema.ColumnType, len(c.keyCols))
	for i, k := range c.keyCols {
		types[i] = k.Type
	}
	return types
}

// advance reads the next row of one side and checks its key ordering
func (c *Comparator) advance(ctx context.Context, s *side) error {
	row, err := s.cursor.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.row, s.key, s.done = nil, nil, true
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("reading %s rows of %s: %w", s.name, c.table, err)
	}

	key := make([]any, len(s.keyIdx))
	for i, idx := range s.keyIdx {
		if idx >= len(row) {
			return fmt.Errorf("reading %s rows of %s: row has %d values", s.name, c.table, len(row))
		}
		key[i] = row[idx]
	}

	if s.prevKey != nil {
		cmp, err := compareKeys(c.keyTypes(), s.prevKey, key)
		if err != nil {
			return fmt.Errorf("comparing keys of %s: %w", c.table, err)
		}
		if cmp >= 0 {
			return &OrderingError{Table: c.table, Side: s.name, Previous: s.prevKey, Current: key}
		}
	}

	threshold := c.opts.threshold()
	for i := range row {
		if slices.Contains(s.keyIdx, i) {
			continue
		}
		var typ schema.ColumnType
		if i < len(s.cols) {
			typ = s.cols[i].Type
		}
		row[i] = hashLarge(typ, row[i], threshold, c.opts)
	}

	s.row, s.key, s.prevKey = row, key, key
	*s.rows++
	c.reportProgress()
	return nil
}

func (c *Comparator) reportProgress() {
	if c.opts.Progress == nil {
		return
	}
	every := c.opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	c.sinceLog++
	if c.sinceLog < every {
		return
	}
	c.sinceLog = 0
	select {
	case c.opts.Progress <- c.progress():
	default:
	}
}

func (c *Comparator) progress() Progress {
	return Progress{
		Table:      c.table,
		SourceRows: c.stats.SourceRows,
		TargetRows: c.stats.TargetRows,
		Changes:    c.stats.Changes(),
	}
}

func (c *Comparator) keyValues(s *side) []ColumnValue {
	key := make([]ColumnValue, len(c.keyCols))
	for i, k := range c.keyCols {
		key[i] = ColumnValue{Column: k.Name, Value: s.key[i]}
	}
	return key
}

// insert carries the source row's values for the columns the target has
func (c *Comparator) insert() RowChange {
	values := make([]ColumnValue, len(c.shared))
	for i, idx := range c.shared {
		values[i] = ColumnValue{Column: c.src.cols[idx].Name, Value: c.src.row[idx]}
	}
	return RowChange{Kind: Insert, Table: c.table, Key: c.keyValues(&c.src), Values: values}
}

func (c *Comparator) delete() RowChange {
	return RowChange{Kind: Delete, Table: c.table, Key: c.keyValues(&c.tgt)}
}

func (c *Comparator) update() (RowChange, bool) {
	var values, previous []ColumnValue
	for _, v := range c.values {
		a := c.src.row[v.source]
		b := c.tgt.row[v.target]
		if valuesEqual(v.typ, a, b, c.opts) {
			continue
		}
		values = append(values, ColumnValue{Column: v.name, Value: a})
		previous = append(previous, ColumnValue{Column: v.name, Value: b})
	}
	if len(values) == 0 {
		return RowChange{}, false
	}
	return RowChange{
		Kind:     Update,
		Table:    c.table,
		Key:      c.keyValues(&c.src),
		Values:   values,
		Previous: previous,
	}, true
}

// fail records a terminal outcome and releases both cursors
func (c *Comparator) fail(err error) error {
	c.err = err
	c.release()
	if c.opts.Progress != nil {
		select {
		case c.opts.Progress <- c.progress():
		default:
		}
	}
	return err
}

func (c *Comparator) release() {
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = errors.Join(c.src.cursor.Close(), c.tgt.cursor.Close())
}

// Close releases both cursors. It is safe to call more than once.
func (c *Comparator) Close() error {
	c.release()
	if c.err == nil {
		c.err = errors.New("comparator is closed")
	}
	return c.closeErr
}

// All yields changes until the cursors are exhausted or an error occurs. The
// comparator is closed when iteration stops. Changes are yielded as they are
// found, so an ordering error can follow changes already yielded; callers
// that need all or nothing use Collect.
func (c *Comparator) All(ctx context.Context) iter.Seq2[RowChange, error] {
	return func(yield func(RowChange, error) bool) {
		defer c.Close()
		for {
			change, err := c.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(RowChange{}, err)
				return
			}
			if !yield(change, nil) {
				return
			}
		}
	}
}

// Result is the complete change set of one table
type Result struct {
	Table   string
	Changes []RowChange
	Stats   Stats
}

// Collect runs a comparison to completion. It returns either every change or
// an error, never a partial result.
func Collect(ctx context.Context, source, target Cursor, opts Options) (*Result, error) {
	c, err := NewComparator(source, target, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	res := &Result{Table: c.Table()}
	for change, err := range c.All(ctx) {
		if err != nil {
			return nil, err
		}
		res.Changes = append(res.Changes, change)
	}
	if c.closeErr != nil {
		return nil, fmt.Errorf("closing cursors of %s: %w", c.table, c.closeErr)
	}
	res.Stats = c.Stats()
	return res, nil
}
