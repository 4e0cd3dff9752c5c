package chatstore

// Cursor is the backward pagination state of one conversation.
type Cursor struct {
	// Before is the opaque server token naming the oldest fetched message.
	Before  string
	HasMore bool
}

// Set updates the cursor from a fetch response. An empty page or an empty next
// token exhausts the cursor.
func (c *Cursor) Set(next string, hasMore bool, rows int) {
	if rows == 0 || !hasMore || next == "" {
		c.Exhaust()
		return
	}
	c.Before = next
	c.HasMore = true
}

func (c *Cursor) Exhaust() {
	c.Before = ""
	c.HasMore = false
}

func (c *Cursor) Reset() {
	*c = Cursor{}
}

func (c *Cursor) CanLoadOlder() bool {
	return c.HasMore && c.Before != ""
}
