package delta

import (
	"fmt"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/valyala/fastjson"
)

var parsers fastjson.ParserPool

var errInvalidUTF8 = errors.New("invalid UTF-8")

// Decode parses an encoded delta. Decoding is strict: the top level holds only
// "ops", and every element holds exactly one payload field plus an optional
// "attributes" object. Any malformed element fails the whole decode.
//
// The input must be strict JSON in UTF-8: the parser alone accepts literals
// such as NaN or 01 that have no JSON encoding.
func Decode(raw []byte) (*Document, error) {
	if err := fastjson.ValidateBytes(raw); err != nil {
		return nil, &DecodeError{Kind: ErrSyntax, Index: -1, Err: err}
	}
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Kind: ErrSyntax, Index: -1, Err: errInvalidUTF8}
	}

	p := parsers.Get()
	defer parsers.Put(p)

	root, err := p.ParseBytes(raw)
	if err != nil {
		return nil, &DecodeError{Kind: ErrSyntax, Index: -1, Err: err}
	}
	obj, err := root.Object()
	if err != nil {
		return nil, newError(ErrTypeMismatch, -1, "", "document must be an object, got "+root.Type().String())
	}

	var (
		ops     *fastjson.Value
		dup     string
		unknown []string
	)
	obj.Visit(func(key []byte, v *fastjson.Value) {
		switch k := string(key); {
		case k != FieldOps:
			unknown = append(unknown, k)
		case ops != nil:
			dup = k
		default:
			ops = v
		}
	})
	switch {
	case dup != "":
		return nil, newError(ErrUnexpectedField, -1, dup, "repeated field")
	case len(unknown) > 0:
		return nil, newError(ErrUnexpectedField, -1, unknown[0], "")
	case ops == nil:
		return nil, newError(ErrMissingField, -1, FieldOps, "")
	}
	elems, err := ops.Array()
	if err != nil {
		return nil, newError(ErrTypeMismatch, -1, FieldOps, "expected array, got "+ops.Type().String())
	}

	doc := &Document{Ops: make([]Operation, 0, len(elems))}
	for i, elem := range elems {
		op, err := decodeOperation(i, elem)
		if err != nil {
			return nil, err
		}
		doc.Ops = append(doc.Ops, op)
	}
	return doc, nil
}

func decodeOperation(index int, elem *fastjson.Value) (Operation, error) {
	obj, err := elem.Object()
	if err != nil {
		return Operation{}, newError(ErrTypeMismatch, index, "", "operation must be an object, got "+elem.Type().String())
	}

	var (
		payloads []string
		content  *fastjson.Value
		attrs    *fastjson.Value
		unknown  []string
		dup      string
		seen     = make(map[string]struct{}, obj.Len())
	)
	obj.Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		if _, ok := seen[k]; ok {
			if dup == "" {
				dup = k
			}
			return
		}
		seen[k] = struct{}{}
		switch {
		case k == FieldAttributes:
			attrs = v
		case payloadKinds[k] != nil:
			payloads = append(payloads, k)
			if content == nil {
				content = v
			}
		default:
			unknown = append(unknown, k)
		}
	})

	switch {
	case dup != "":
		return Operation{}, newError(ErrUnexpectedField, index, dup, "repeated field")
	case len(payloads) > 1:
		return Operation{}, newError(ErrAmbiguousOperation, index, "", "fields "+strings.Join(payloads, ", "))
	case len(payloads) == 0 && len(unknown) > 0:
		return Operation{}, newError(ErrUnknownOperation, index, unknown[0], "")
	case len(payloads) == 0:
		return Operation{}, newError(ErrMissingField, index, strings.Join(payloadFields(), "|"), "")
	case len(unknown) > 0:
		return Operation{}, newError(ErrUnexpectedField, index, unknown[0], "")
	}

	op := Operation{Payload: payloadKinds[payloads[0]](toValue(content))}
	if attrs != nil {
		a, err := attrs.Object()
		if err != nil {
			return Operation{}, newError(ErrTypeMismatch, index, FieldAttributes, "expected object, got "+attrs.Type().String())
		}
		if a.Len() > 0 {
			op.Attributes = make(Attributes, a.Len())
			a.Visit(func(key []byte, v *fastjson.Value) {
				op.Attributes[string(key)] = toValue(v)
			})
		}
	}
	return op, nil
}

// toValue copies a parsed value out of the parser's memory into plain Go
// values. Numbers stay json.Number so they re-encode verbatim.
func toValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		return json.Number(v.MarshalTo(nil))
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = toValue(e)
		}
		return out
	case fastjson.TypeObject:
		obj, _ := v.Object()
		out := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, e *fastjson.Value) {
			out[string(key)] = toValue(e)
		})
		return out
	default:
		return nil
	}
}

// normalize converts v to the generic form Decode yields for its encoding.
// A value with no JSON encoding is returned unchanged so Encode reports it.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, json.Number:
		return v
	case string:
		if utf8.ValidString(t) {
			return v
		}
	}
	raw, err := json.MarshalNoEscape(v)
	if err != nil {
		return v
	}
	p := parsers.Get()
	defer parsers.Put(p)
	parsed, err := p.ParseBytes(raw)
	if err != nil {
		return v
	}
	return toValue(parsed)
}

func payloadFields() []string {
	names := make([]string, 0, len(payloadKinds))
	for name := range payloadKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode writes the compact wire form of d. Attributes are emitted only when
// non-empty, with keys sorted. A document obtained from Decode always encodes;
// an error means a programmatically built document holds a nil payload or a
// value that has no JSON form.
func Encode(d *Document) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, `{"ops":[`...)
	if d != nil {
		for i, op := range d.Ops {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendOperation(buf, op); err != nil {
				return nil, fmt.Errorf("encode ops[%d]: %w", i, err)
			}
		}
	}
	buf = append(buf, "]}"...)
	return buf, nil
}

func appendOperation(buf []byte, op Operation) ([]byte, error) {
	if op.Payload == nil {
		return nil, errors.New("operation has no payload")
	}
	content, err := json.MarshalNoEscape(op.Payload.Content())
	if err != nil {
		return nil, err
	}
	buf = append(buf, '{', '"')
	buf = append(buf, op.Payload.Field()...)
	buf = append(buf, '"', ':')
	buf = append(buf, content...)
	if len(op.Attributes) > 0 {
		attrs, err := json.MarshalNoEscape(map[string]any(op.Attributes))
		if err != nil {
			return nil, fmt.Errorf("attributes: %w", err)
		}
		buf = append(buf, `,"attributes":`...)
		buf = append(buf, attrs...)
	}
	return append(buf, '}'), nil
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	return Encode(&d)
}

// UnmarshalJSON implements json.Unmarshaler with the same rules as Decode.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Decode(data)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}
