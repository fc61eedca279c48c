package strategy

// Cursor is a write position over a ring of fixed size. Offset exposes it as
// a negative index in [-size, -1], the oldest slot being -size.
type Cursor struct {
	pos  int
	size int
}

func NewCursor(size int) Cursor {
	return Cursor{size: size}
}

// Index is the slot the next write goes to.
func (c Cursor) Index() int { return c.pos }

func (c Cursor) Offset() int { return c.pos - c.size }

// Advance returns the cursor moved one slot forward, wrapping after the last.
func (c Cursor) Advance() Cursor {
	c.pos = (c.pos + 1) % c.size
	return c
}

// Wrapped reports whether the next write overwrites the first slot.
func (c Cursor) Wrapped() bool { return c.pos == 0 }
