package message

import "encoding/json"

// Opt is a tri-state patch field. A patch must distinguish "leave the
// current value alone" (the key is absent), "clear the value" (the key is
// an explicit null) and "replace the value". encoding/json never invokes
// UnmarshalJSON for absent keys, so the zero Opt naturally reads as
// "keep"; an explicit null arrives as UnmarshalJSON("null").
type Opt[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns an Opt carrying v.
func Set[T any](v T) Opt[T] {
	return Opt[T]{present: true, value: v}
}

// Clear returns an Opt representing an explicit null.
func Clear[T any]() Opt[T] {
	return Opt[T]{present: true, null: true}
}

// Present reports whether the field appeared in the patch at all.
func (o Opt[T]) Present() bool { return o.present }

// Null reports whether the field was an explicit null.
func (o Opt[T]) Null() bool { return o.present && o.null }

// IsSet reports whether the field carries a value.
func (o Opt[T]) IsSet() bool { return o.present && !o.null }

// Value returns the carried value; the zero T when not set.
func (o Opt[T]) Value() T { return o.value }

// IsZero reports whether the field is absent, so `json:",omitzero"` keeps
// untouched fields out of marshalled patches.
func (o Opt[T]) IsZero() bool { return !o.present }

func (o *Opt[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Opt[T]{present: true, null: true}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Opt[T]{present: true, value: v}
	return nil
}

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
