// Package columns implements a structure-of-arrays table keyed by a primary
// key column. Every field lives in its own numeric slice sharing one row index.
package columns

import (
	"errors"
	"fmt"
	"sort"
)

// Key is the primary key type shared by every table.
type Key = int32

// NotFound is returned by Index when a key has no row.
const NotFound = -1

const minCapacity = 8

var (
	// ErrMissingKey indicates an insert or alter did not carry the key field.
	ErrMissingKey = errors.New("key field missing")
	// ErrDuplicateKey indicates an insert would reuse an existing key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound indicates a key has no row in the table.
	ErrNotFound = errors.New("key not found")
	// ErrIncompatibleSchema indicates a copy source lacks a required field or
	// stores it with a different element type.
	ErrIncompatibleSchema = errors.New("incompatible schema")
	// ErrLengthMismatch indicates bulk columns of differing lengths.
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrForeignColumn indicates a value built from another table's column.
	ErrForeignColumn = errors.New("column belongs to another table")
)

// Table stores rows as parallel column slices. For every active row i,
// lookup[key[i]] == i, and every slot at or past Len is zero.
type Table struct {
	name     string
	key      *Column[Key]
	cols     []column
	byName   map[string]column
	length   int
	capacity int
	lookup   map[Key]int
	scratch  []int
	skipped  int
}

// NewTable creates an empty table with the given primary key field.
func NewTable(name, keyName string) (*Table, KeyColumn) {
	t := &Table{
		name:   name,
		byName: make(map[string]column),
		lookup: make(map[Key]int),
	}
	t.key = declare[Key](t, keyName, false)
	return t, KeyColumn{c: t.key}
}

// Add declares a required field. A copy source lacking it is rejected.
// Declaring a field twice panics; schemas are fixed at construction.
func Add[T Numeric](t *Table, name string) *Column[T] {
	return declare[T](t, name, false)
}

// AddOptional declares a field that copies leave zeroed when the source
// table does not carry it.
func AddOptional[T Numeric](t *Table, name string) *Column[T] {
	return declare[T](t, name, true)
}

// ColumnOf returns the typed handle for name, or nil when the table has no
// such field of element type T.
func ColumnOf[T Numeric](t *Table, name string) *Column[T] {
	c, ok := t.byName[name].(*Column[T])
	if !ok {
		return nil
	}
	return c
}

func declare[T Numeric](t *Table, name string, optional bool) *Column[T] {
	if _, exists := t.byName[name]; exists {
		panic(fmt.Sprintf("columns: table %q declares %q twice", t.name, name))
	}
	c := &Column[T]{table: t, name: name, opt: optional, data: make([]T, t.capacity)}
	t.cols = append(t.cols, c)
	t.byName[name] = c
	return c
}

// Name reports the table name.
func (t *Table) Name() string { return t.name }

// Key returns the read-only primary key handle.
func (t *Table) Key() KeyColumn { return KeyColumn{c: t.key} }

// Len reports the number of active rows.
func (t *Table) Len() int { return t.length }

// Cap reports the allocated row capacity, always a power of two.
func (t *Table) Cap() int { return t.capacity }

// Skipped reports how many unknown keys AlterBulk has ignored since the
// last ResetSkipped.
func (t *Table) Skipped() int { return t.skipped }

// ResetSkipped zeroes the AlterBulk diagnostic counter.
func (t *Table) ResetSkipped() { t.skipped = 0 }

// Fields lists declared field names in declaration order.
func (t *Table) Fields() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.label()
	}
	return names
}

// Index returns the row holding key or NotFound.
func (t *Table) Index(key Key) int {
	if row, ok := t.lookup[key]; ok {
		return row
	}
	return NotFound
}

// Has reports whether key has a row.
func (t *Table) Has(key Key) bool {
	_, ok := t.lookup[key]
	return ok
}

// Lookup returns the row holding key.
func (t *Table) Lookup(key Key) (int, error) {
	row, ok := t.lookup[key]
	if !ok {
		return NotFound, fmt.Errorf("%w: %s %d", ErrNotFound, t.name, key)
	}
	return row, nil
}

// Insert appends one row and returns its index. Fields not supplied stay zero.
func (t *Table) Insert(values ...Value) (int, error) {
	key, found := Key(0), false
	for _, v := range values {
		if v.target().owner() != t {
			return NotFound, fmt.Errorf("%w: %s", ErrForeignColumn, v.target().label())
		}
		if k, ok := v.(cell[Key]); ok && k.c == t.key {
			key, found = k.v, true
		}
	}
	if !found {
		return NotFound, fmt.Errorf("%w: %s.%s", ErrMissingKey, t.name, t.key.name)
	}
	if t.Has(key) {
		return NotFound, fmt.Errorf("%w: %s %d", ErrDuplicateKey, t.name, key)
	}
	t.reserve(t.length + 1)
	row := t.length
	for _, v := range values {
		v.storeAt(row)
	}
	t.length++
	t.lookup[key] = row
	return row, nil
}

// InsertBulk appends len(keys) rows in one step and returns the index of the
// first. The new rows occupy [start, start+n). Nothing is written on error.
func (t *Table) InsertBulk(values ...Values) (int, error) {
	keys, err := t.bulkKeys(values)
	if err != nil {
		return NotFound, err
	}
	start := t.length
	for i, k := range keys {
		if _, dup := t.lookup[k]; dup {
			for _, added := range keys[:i] {
				delete(t.lookup, added)
			}
			return NotFound, fmt.Errorf("%w: %s %d", ErrDuplicateKey, t.name, k)
		}
		t.lookup[k] = start + i
	}
	t.reserve(start + len(keys))
	for _, v := range values {
		v.storeFrom(start)
	}
	t.length += len(keys)
	return start, nil
}

// Alter overwrites the supplied fields of the row identified by the key value.
func (t *Table) Alter(values ...Value) error {
	key, found := Key(0), false
	for _, v := range values {
		if v.target().owner() != t {
			return fmt.Errorf("%w: %s", ErrForeignColumn, v.target().label())
		}
		if k, ok := v.(cell[Key]); ok && k.c == t.key {
			key, found = k.v, true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s.%s", ErrMissingKey, t.name, t.key.name)
	}
	row, err := t.Lookup(key)
	if err != nil {
		return err
	}
	for _, v := range values {
		if v.target() == column(t.key) {
			continue
		}
		v.storeAt(row)
	}
	return nil
}

// AlterBulk overwrites fields row by row. Keys without a row are skipped and
// counted in Skipped. It returns how many rows were updated.
func (t *Table) AlterBulk(values ...Values) (int, error) {
	keys, err := t.bulkKeys(values)
	if err != nil {
		return 0, err
	}
	applied := 0
	for i, k := range keys {
		row, ok := t.lookup[k]
		if !ok {
			t.skipped++
			continue
		}
		for _, v := range values {
			if v.target() == column(t.key) {
				continue
			}
			v.storeRow(row, i)
		}
		applied++
	}
	return applied, nil
}

func (t *Table) bulkKeys(values []Values) ([]Key, error) {
	var keys []Key
	found := false
	n := -1
	for _, v := range values {
		if v.target().owner() != t {
			return nil, fmt.Errorf("%w: %s", ErrForeignColumn, v.target().label())
		}
		if n >= 0 && v.count() != n {
			return nil, fmt.Errorf("%w: %s.%s has %d rows, want %d", ErrLengthMismatch, t.name, v.target().label(), v.count(), n)
		}
		n = v.count()
		if b, ok := v.(batch[Key]); ok && b.c == t.key {
			keys, found = b.vs, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, t.name, t.key.name)
	}
	return keys, nil
}

// DeleteBulk removes every listed key that has a row, tolerating duplicates
// and unknown keys, and returns the number of rows removed. Surviving rows
// keep their relative order.
func (t *Table) DeleteBulk(keys []Key) int {
	rows := t.scratch[:0]
	for _, k := range keys {
		if row, ok := t.lookup[k]; ok {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		t.scratch = rows
		return 0
	}
	sort.Ints(rows)
	unique := rows[:1]
	for _, row := range rows[1:] {
		if row != unique[len(unique)-1] {
			unique = append(unique, row)
		}
	}
	for _, row := range unique {
		delete(t.lookup, t.key.data[row])
	}
	for _, c := range t.cols {
		c.compact(unique, t.length)
	}
	t.length -= len(unique)
	for row := unique[0]; row < t.length; row++ {
		t.lookup[t.key.data[row]] = row
	}
	t.scratch = rows
	return len(unique)
}

// Clear removes every row and keeps the allocated capacity.
func (t *Table) Clear() {
	for _, c := range t.cols {
		c.zero(0, t.length)
	}
	t.length = 0
	clear(t.lookup)
}

// Clone returns an independent deep copy. Typed handles must be re-fetched
// from the clone with ColumnOf.
func (t *Table) Clone() *Table {
	clone := &Table{
		name:     t.name,
		byName:   make(map[string]column, len(t.cols)),
		cols:     make([]column, len(t.cols)),
		length:   t.length,
		capacity: t.capacity,
		lookup:   make(map[Key]int, len(t.lookup)),
		skipped:  t.skipped,
	}
	for i, c := range t.cols {
		bound := c.bind(clone)
		clone.cols[i] = bound
		clone.byName[bound.label()] = bound
	}
	clone.key = clone.byName[t.key.name].(*Column[Key])
	for k, row := range t.lookup {
		clone.lookup[k] = row
	}
	return clone
}

// CopyFrom replaces the contents of t with the rows of src. Fields are
// matched by name; optional fields src lacks are left zero. Capacity grows
// to fit src and never shrinks. The schema is checked before anything is
// written.
func (t *Table) CopyFrom(src *Table) error {
	if src == t {
		return nil
	}
	pairs := make([]column, len(t.cols))
	for i, c := range t.cols {
		from, ok := src.byName[c.label()]
		if !ok {
			if c.optional() {
				continue
			}
			return fmt.Errorf("%w: %s lacks %s", ErrIncompatibleSchema, src.name, c.label())
		}
		if !c.compatible(from) {
			return fmt.Errorf("%w: %s.%s element type differs", ErrIncompatibleSchema, src.name, c.label())
		}
		pairs[i] = from
	}
	if src.key.name != t.key.name {
		return fmt.Errorf("%w: key %s, want %s", ErrIncompatibleSchema, src.key.name, t.key.name)
	}

	t.reserve(src.length)
	for i, c := range t.cols {
		if pairs[i] == nil {
			c.zero(0, max(t.length, src.length))
			continue
		}
		c.copyFrom(pairs[i], src.length)
		if t.length > src.length {
			c.zero(src.length, t.length)
		}
	}
	t.length = src.length
	clear(t.lookup)
	for row, k := range t.key.data[:t.length] {
		t.lookup[k] = row
	}
	return nil
}

func (t *Table) reserve(n int) {
	if n <= t.capacity {
		return
	}
	capacity := nextPowerOfTwo(n)
	for _, c := range t.cols {
		c.resize(capacity)
	}
	t.capacity = capacity
}

func nextPowerOfTwo(n int) int {
	capacity := minCapacity
	for capacity < n {
		capacity <<= 1
	}
	return capacity
}
