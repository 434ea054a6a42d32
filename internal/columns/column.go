package columns

// Numeric constrains column element types to fixed-width numbers.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64
}

// column is the type-erased view a Table keeps of each typed column.
type column interface {
	label() string
	optional() bool
	owner() *Table
	resize(capacity int)
	compact(drop []int, length int)
	zero(from, to int)
	copyFrom(src column, n int) bool
	compatible(src column) bool
	bind(t *Table) column
}

// Column is a typed handle onto one field of a Table. Rows past the table
// length are always zero.
type Column[T Numeric] struct {
	table *Table
	name  string
	opt   bool
	data  []T
}

// Name reports the field name.
func (c *Column[T]) Name() string { return c.name }

// At returns the value stored at row.
func (c *Column[T]) At(row int) T { return c.data[row] }

// Set overwrites the value stored at row.
func (c *Column[T]) Set(row int, v T) { c.data[row] = v }

// Add increments the value stored at row by delta.
func (c *Column[T]) Add(row int, delta T) { c.data[row] += delta }

// Values exposes the active rows. The slice aliases table storage and is
// invalidated by any structural mutation.
func (c *Column[T]) Values() []T { return c.data[:c.table.length] }

// Get returns the value stored for key.
func (c *Column[T]) Get(key Key) (T, bool) {
	row := c.table.Index(key)
	if row == NotFound {
		var zero T
		return zero, false
	}
	return c.data[row], true
}

// Is pairs the column with a value for Insert and Alter.
func (c *Column[T]) Is(v T) Value { return cell[T]{c: c, v: v} }

// All pairs the column with one value per row for InsertBulk and AlterBulk.
func (c *Column[T]) All(vs []T) Values { return batch[T]{c: c, vs: vs} }

func (c *Column[T]) label() string     { return c.name }
func (c *Column[T]) optional() bool    { return c.opt }
func (c *Column[T]) owner() *Table     { return c.table }
func (c *Column[T]) zero(from, to int) { clear(c.data[from:to]) }

func (c *Column[T]) resize(capacity int) {
	grown := make([]T, capacity)
	copy(grown, c.data)
	c.data = grown
}

func (c *Column[T]) compact(drop []int, length int) {
	write := drop[0]
	next := 0
	for read := drop[0]; read < length; read++ {
		if next < len(drop) && drop[next] == read {
			next++
			continue
		}
		c.data[write] = c.data[read]
		write++
	}
	clear(c.data[write:length])
}

func (c *Column[T]) compatible(src column) bool {
	_, ok := src.(*Column[T])
	return ok
}

func (c *Column[T]) copyFrom(src column, n int) bool {
	s, ok := src.(*Column[T])
	if !ok {
		return false
	}
	copy(c.data[:n], s.data[:n])
	return true
}

func (c *Column[T]) bind(t *Table) column {
	clone := &Column[T]{table: t, name: c.name, opt: c.opt, data: make([]T, len(c.data))}
	copy(clone.data, c.data)
	return clone
}

// KeyColumn is the read-only handle onto a table's primary key. Keys change
// only through Insert, InsertBulk and DeleteBulk.
type KeyColumn struct {
	c *Column[Key]
}

// Name reports the key field name.
func (k KeyColumn) Name() string { return k.c.name }

// At returns the key stored at row.
func (k KeyColumn) At(row int) Key { return k.c.data[row] }

// Values exposes the active keys.
func (k KeyColumn) Values() []Key { return k.c.Values() }

// Is pairs the key column with a key for Insert and Alter.
func (k KeyColumn) Is(v Key) Value { return cell[Key]{c: k.c, v: v} }

// All pairs the key column with keys for InsertBulk and AlterBulk.
func (k KeyColumn) All(vs []Key) Values { return batch[Key]{c: k.c, vs: vs} }

// Value is a single field assignment.
type Value interface {
	target() column
	storeAt(row int)
}

// Values is a per-row field assignment.
type Values interface {
	target() column
	count() int
	storeFrom(start int)
	storeRow(row, i int)
}

type cell[T Numeric] struct {
	c *Column[T]
	v T
}

func (v cell[T]) target() column  { return v.c }
func (v cell[T]) storeAt(row int) { v.c.data[row] = v.v }

type batch[T Numeric] struct {
	c  *Column[T]
	vs []T
}

func (b batch[T]) target() column      { return b.c }
func (b batch[T]) count() int          { return len(b.vs) }
func (b batch[T]) storeFrom(start int) { copy(b.c.data[start:start+len(b.vs)], b.vs) }
func (b batch[T]) storeRow(row, i int) { b.c.data[row] = b.vs[i] }
