package delta

import "reflect"

// Reserved field names of the wire format.
const (
	FieldOps        = "ops"
	FieldInsert     = "insert"
	FieldAttributes = "attributes"
)

// Payload is the typed content of an Operation. The set of payload kinds is
// closed: new kinds are added to payloadKinds, which drives both decode and
// encode.
type Payload interface {
	// Field is the reserved field name the payload is encoded under.
	Field() string
	// Content is the generic JSON value carried by the payload.
	Content() any

	payload()
}

// Insert inserts an arbitrary JSON value. Only string values are text.
type Insert struct {
	Value any
}

func (Insert) Field() string { return FieldInsert }
func (i Insert) Content() any { return i.Value }
func (Insert) payload() {}

// Text returns the inserted string, if the value is one.
func (i Insert) Text() (string, bool) {
	s, ok := i.Value.(string)
	return s, ok
}

// payloadKinds maps each reserved payload field to its constructor.
var payloadKinds = map[string]func(v any) Payload{
	FieldInsert: func(v any) Payload { return Insert{Value: v} },
}

// Attributes is the open set of formatting attributes of an Operation.
// Absent and empty are the same thing.
type Attributes map[string]any

// Equal compares attribute contents. Key order never matters.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return reflect.DeepEqual(map[string]any(a), map[string]any(b))
}

func (a Attributes) clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = normalize(v)
	}
	return out
}

// Operation is a single step of a delta: a payload plus its attributes.
type Operation struct {
	Payload    Payload
	Attributes Attributes
}

// NewInsert creates an insert operation. attrs is copied; an empty map is
// dropped. The value and attribute values are brought into the form Decode
// produces (json.Number, []any, map[string]any), so a built operation equals
// its own decoded encoding.
func NewInsert(value any, attrs Attributes) Operation {
	return Operation{Payload: Insert{Value: normalize(value)}, Attributes: attrs.clone()}
}

// IsInsert reports whether the operation carries an Insert payload.
func (op Operation) IsInsert() bool {
	_, ok := op.Payload.(Insert)
	return ok
}

// Equal reports whether both operations carry the same payload and attributes.
// Values compare structurally, so 1 and json.Number("1") differ; operations
// built with NewInsert or Decode always hold json.Number.
func (op Operation) Equal(other Operation) bool {
	if op.Payload == nil || other.Payload == nil {
		return op.Payload == nil && other.Payload == nil && op.Attributes.Equal(other.Attributes)
	}
	return op.Payload.Field() == other.Payload.Field() &&
		reflect.DeepEqual(op.Payload.Content(), other.Payload.Content()) &&
		op.Attributes.Equal(other.Attributes)
}
