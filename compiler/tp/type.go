// Package tp defines the type lattice. Types are values compared
// structurally; there is no nominal subtyping.
package tp

import (
	"fmt"
	"strings"
)

type (
	Type interface {
		Size() int
	}

	// Prim is a primitive type. Status is an i32-width alias and Handle
	// a u64-width alias; both stay distinct types with explicit
	// compatibility (see Compatible).
	Prim int

	Array struct {
		Elem Type
		Len  int
	}

	Slice struct {
		Elem Type
	}

	// Ptr is a raw pointer. Valid only in UNSAFE-permitted contexts;
	// the safety checker enforces that, not this package.
	Ptr struct {
		Elem Type
	}

	Tuple struct {
		Elems []Type
	}

	// Result pairs a status code with a value.
	Result struct {
		Inner Type
	}

	Func struct {
		Params  []Type
		Results []Type
	}

	Void struct{}

	// Unknown is the inference placeholder. It must not survive checking.
	Unknown struct{}
)

const (
	I8 Prim = iota
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Bool
	Char
	String
	Status
	Handle
)

func (p Prim) Size() int {
	switch p {
	case I8, U8, Bool, Char:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32, Status:
		return 4
	case I64, U64, F64, Handle, String:
		return 8
	}

	panic(p)
}

func (t Array) Size() int   { return t.Elem.Size() * t.Len }
func (t Slice) Size() int   { return 16 }
func (t Ptr) Size() int     { return 8 }
func (t Result) Size() int  { return Status.Size() + t.Inner.Size() }
func (t Func) Size() int    { return 8 }
func (t Void) Size() int    { return 0 }
func (t Unknown) Size() int { return 0 }

func (t Tuple) Size() (s int) {
	for _, e := range t.Elems {
		s += e.Size()
	}

	return s
}

// Equal compares structurally.
func Equal(a, b Type) bool {
	switch x := a.(type) {
	case Prim:
		y, ok := b.(Prim)
		return ok && x == y
	case Array:
		y, ok := b.(Array)
		return ok && x.Len == y.Len && Equal(x.Elem, y.Elem)
	case Slice:
		y, ok := b.(Slice)
		return ok && Equal(x.Elem, y.Elem)
	case Ptr:
		y, ok := b.(Ptr)
		return ok && Equal(x.Elem, y.Elem)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalList(x.Elems, y.Elems)
	case Result:
		y, ok := b.(Result)
		return ok && Equal(x.Inner, y.Inner)
	case Func:
		y, ok := b.(Func)
		return ok && equalList(x.Params, y.Params) && equalList(x.Results, y.Results)
	case Void:
		_, ok := b.(Void)
		return ok
	case Unknown:
		_, ok := b.(Unknown)
		return ok
	case nil:
		return b == nil
	}

	panic(a)
}

func equalList(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}

// Compatible reports whether a src value is assignable where dst is
// expected. Beyond structural equality only the declared alias pairs
// are compatible: status with i32 and handle with u64, both ways.
// Tuples and results are compatible elementwise under the same rule,
// and result[T] interconverts with a (status, T) tuple since both
// carry the same pair.
func Compatible(dst, src Type) bool {
	if Equal(dst, src) {
		return true
	}

	switch x := dst.(type) {
	case Prim:
		y, ok := src.(Prim)
		if !ok {
			return false
		}

		return x == Status && y == I32 || x == I32 && y == Status ||
			x == Handle && y == U64 || x == U64 && y == Handle
	case Tuple:
		if y, ok := src.(Result); ok {
			return len(x.Elems) == 2 && Equal(x.Elems[0], Status) && Compatible(x.Elems[1], y.Inner)
		}

		y, ok := src.(Tuple)
		if !ok || len(x.Elems) != len(y.Elems) {
			return false
		}

		for i := range x.Elems {
			if !Compatible(x.Elems[i], y.Elems[i]) {
				return false
			}
		}

		return true
	case Result:
		if y, ok := src.(Tuple); ok {
			return len(y.Elems) == 2 && Equal(y.Elems[0], Status) && Compatible(x.Inner, y.Elems[1])
		}

		y, ok := src.(Result)
		return ok && Compatible(x.Inner, y.Inner)
	}

	return false
}

// IsNumeric includes the status and handle aliases.
func IsNumeric(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p <= F64 || p == Status || p == Handle)
}

// IsInteger reports integer primitives, aliases included.
func IsInteger(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p <= U64 || p == Status || p == Handle)
}

func IsFloat(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p == F32 || p == F64)
}

// SignedInt reports signed integer primitives, status included.
func SignedInt(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p <= I64 || p == Status)
}

// UnsignedInt reports unsigned integer primitives, handle and char included.
func UnsignedInt(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p >= U8 && p <= U64 || p == Handle || p == Char)
}

// Comparable covers == and !=.
func Comparable(t Type) bool {
	p, ok := t.(Prim)
	return ok && p != String
}

// Ordered covers < <= > >=.
func Ordered(t Type) bool {
	return IsNumeric(t) || Equal(t, Char)
}

// HasPointer reports whether t is or contains a raw pointer.
func HasPointer(t Type) bool {
	switch x := t.(type) {
	case Ptr:
		return true
	case Array:
		return HasPointer(x.Elem)
	case Slice:
		return HasPointer(x.Elem)
	case Tuple:
		for _, e := range x.Elems {
			if HasPointer(e) {
				return true
			}
		}
	case Result:
		return HasPointer(x.Inner)
	}

	return false
}

// CarriesStatus reports whether t can signal failure by convention:
// status itself, a tuple whose first element is a status, or a result.
func CarriesStatus(t Type) bool {
	switch x := t.(type) {
	case Prim:
		return x == Status
	case Tuple:
		return len(x.Elems) != 0 && Equal(x.Elems[0], Status)
	case Result:
		return true
	}

	return false
}

func (p Prim) String() string {
	switch p {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Bool:
		return "bool"
	case Char:
		return "char"
	case String:
		return "string"
	case Status:
		return "status"
	case Handle:
		return "handle"
	}

	return fmt.Sprintf("prim[%d]", int(p))
}

func (t Array) String() string   { return fmt.Sprintf("array[%v, %d]", t.Elem, t.Len) }
func (t Slice) String() string   { return fmt.Sprintf("slice[%v]", t.Elem) }
func (t Ptr) String() string     { return fmt.Sprintf("ptr[%v]", t.Elem) }
func (t Result) String() string  { return fmt.Sprintf("result[%v]", t.Inner) }
func (t Void) String() string    { return "void" }
func (t Unknown) String() string { return "unknown" }

func (t Tuple) String() string {
	var b strings.Builder

	b.WriteString("tuple(")

	for i, e := range t.Elems {
		if i != 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%v", e)
	}

	b.WriteString(")")

	return b.String()
}

func (t Func) String() string {
	var b strings.Builder

	b.WriteString("func(")

	for i, e := range t.Params {
		if i != 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%v", e)
	}

	b.WriteString(")")

	switch len(t.Results) {
	case 0:
	case 1:
		fmt.Fprintf(&b, " -> %v", t.Results[0])
	default:
		b.WriteString(" -> (")

		for i, e := range t.Results {
			if i != 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%v", e)
		}

		b.WriteString(")")
	}

	return b.String()
}
