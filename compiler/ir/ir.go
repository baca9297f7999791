// Package ir is the target-independent output of the pipeline.
//
// A function is a list of basic blocks over an infinite register set.
// Every register is assigned exactly once; mutable source bindings live
// in stack slots (Alloc) accessed through Load and Store, so no phi
// nodes are needed. A block ends with exactly one terminator: B, BCond
// or Ret. Block zero is the entry.
package ir

import "github.com/slatelang/slate/compiler/tp"

type (
	// Reg names a virtual register within one function.
	Reg int

	// Label names a block within one function. Labels are stable:
	// sweeping unreachable blocks never renumbers the survivors.
	Label int

	// Op is a Bin or Un operation code.
	Op int

	// Cond is a Cmp condition, spelled as the source operator.
	Cond string

	Module struct {
		Name   string
		Target string // exe or lib

		Externs []Extern
		Strings []string

		Funcs []*Func

		Services []Service
		Hooks    []Hook
	}

	// Extern is an external function the module links against.
	// Declared once, referenced by Call.Func.
	Extern struct {
		Name    string
		Params  []tp.Type
		Results []tp.Type
	}

	// Service and Hook carry module metadata for the embedding runtime.
	Service struct {
		Name string
		Func string
	}

	Hook struct {
		Event string
		Func  string
	}

	Func struct {
		Name    string
		Params  []Param
		Results []tp.Type

		Resilient *Resilience

		NRegs  int
		Blocks []*Block
	}

	// Resilience mirrors the @resilient decorator for the runtime.
	Resilience struct {
		MaxAttempts int
		TimeoutMs   int
		Backoff     string
	}

	Param struct {
		Name string
		Type tp.Type
		Reg  Reg
	}

	Block struct {
		Label Label
		Code  []any
	}

	// Imm materializes an integer constant bit pattern.
	Imm struct {
		Dst  Reg
		Type tp.Type
		Val  uint64
	}

	FImm struct {
		Dst  Reg
		Type tp.Type
		Val  float64
	}

	// SImm materializes interned string Str from the module table.
	SImm struct {
		Dst Reg
		Str int
	}

	Bin struct {
		Dst  Reg
		Op   Op
		Type tp.Type
		L, R Reg
	}

	// Cmp yields a bool register.
	Cmp struct {
		Dst  Reg
		Cond Cond
		Type tp.Type // operand type
		L, R Reg
	}

	Un struct {
		Dst  Reg
		Op   Op
		Type tp.Type
		X    Reg
	}

	// Alloc reserves a stack slot for one value of Type and yields its
	// address. Slots back mutable bindings and merged control flow.
	Alloc struct {
		Dst  Reg
		Type tp.Type
	}

	Load struct {
		Dst  Reg
		Type tp.Type
		Addr Reg
	}

	Store struct {
		Addr Reg
		Type tp.Type
		Val  Reg
	}

	MakeTuple struct {
		Dst   Reg
		Type  tp.Type
		Elems []Reg
	}

	TupleGet struct {
		Dst   Reg
		Type  tp.Type // element type
		Tuple Reg
		Index int
	}

	// Elem yields the address of element Index of the aggregate at
	// Base. Reads and writes go through Load and Store.
	Elem struct {
		Dst   Reg
		Type  tp.Type // element type
		Base  Reg
		Index Reg
	}

	// Call invokes a declared function or an extern by name.
	Call struct {
		Dsts   []Reg
		Func   string
		Args   []Reg
		Extern bool
	}

	B struct {
		To Label
	}

	// BCond branches to To when Cond holds, to Else otherwise.
	BCond struct {
		Cond Reg
		To   Label
		Else Label
	}

	Ret struct {
		Vals []Reg
	}
)

const (
	Add Op = iota
	Sub
	Mul
	Div
	Mod
	Pow
	And
	Or
	Xor
	Shl
	Shr

	Neg  // arithmetic negation
	Not  // bool negation
	BNot // bitwise complement
)

func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case Div:
		return "div"
	case Mod:
		return "mod"
	case Pow:
		return "pow"
	case And:
		return "and"
	case Or:
		return "or"
	case Xor:
		return "xor"
	case Shl:
		return "shl"
	case Shr:
		return "shr"
	case Neg:
		return "neg"
	case Not:
		return "not"
	case BNot:
		return "bnot"
	}

	return "op?"
}

// Terminator reports whether x ends a block.
func Terminator(x any) bool {
	switch x.(type) {
	case B, BCond, Ret:
		return true
	}

	return false
}

// Block returns the block with the given label, nil when swept.
func (f *Func) Block(l Label) *Block {
	for _, b := range f.Blocks {
		if b.Label == l {
			return b
		}
	}

	return nil
}
