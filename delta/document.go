package delta

import "strings"

// Document is an ordered sequence of operations. Order is the order in which
// content was composed and is preserved through decode and encode.
type Document struct {
	Ops []Operation
}

// NewDocument creates a document holding a copy of ops.
func NewDocument(ops ...Operation) *Document {
	d := &Document{Ops: make([]Operation, len(ops))}
	copy(d.Ops, ops)
	return d
}

// Len returns the number of operations.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Ops)
}

// Concat returns a new document with the operations of other appended to
// those of d. Neither input is modified.
func (d *Document) Concat(other *Document) *Document {
	out := &Document{Ops: make([]Operation, 0, d.Len()+other.Len())}
	if d != nil {
		out.Ops = append(out.Ops, d.Ops...)
	}
	if other != nil {
		out.Ops = append(out.Ops, other.Ops...)
	}
	return out
}

// Equal reports whether both documents hold equal operations in the same order.
func (d *Document) Equal(other *Document) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i := 0; i < d.Len(); i++ {
		if !d.Ops[i].Equal(other.Ops[i]) {
			return false
		}
	}
	return true
}

// PlainText is shorthand for PlainText(d).
func (d *Document) PlainText() string {
	return PlainText(d)
}

// PlainText concatenates the string values of all insert operations in order.
// Non-string inserts and other payload kinds contribute nothing.
func PlainText(d *Document) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	for _, op := range d.Ops {
		ins, ok := op.Payload.(Insert)
		if !ok {
			continue
		}
		if s, ok := ins.Text(); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}
