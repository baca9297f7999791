package ir

import (
	"fmt"

	"github.com/slatelang/slate/compiler/tp"
)

// Print renders m as a stable text listing. The listing is the
// contract of the code generator tests and the dump flags, so the
// format only ever grows.
func Print(m *Module) []byte {
	var b []byte

	b = fmt.Appendf(b, "module %v\n", m.Name)
	b = fmt.Appendf(b, "target %v\n", m.Target)

	if len(m.Externs) != 0 {
		b = append(b, '\n')
	}

	for _, e := range m.Externs {
		b = append(b, "extern "...)
		b = appendSig(b, e.Name, e.Params, e.Results)
		b = append(b, '\n')
	}

	if len(m.Strings) != 0 {
		b = append(b, '\n')
	}

	for i, s := range m.Strings {
		b = fmt.Appendf(b, "string s%d = %q\n", i, s)
	}

	if len(m.Services)+len(m.Hooks) != 0 {
		b = append(b, '\n')
	}

	for _, s := range m.Services {
		b = fmt.Appendf(b, "service %q -> %v\n", s.Name, s.Func)
	}

	for _, h := range m.Hooks {
		b = fmt.Appendf(b, "hook %v -> %v\n", h.Event, h.Func)
	}

	for _, f := range m.Funcs {
		b = append(b, '\n')
		b = appendFunc(b, f)
	}

	return b
}

func appendFunc(b []byte, f *Func) []byte {
	b = append(b, "func "...)
	b = append(b, f.Name...)
	b = append(b, '(')

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = fmt.Appendf(b, "%v r%d: %v", p.Name, p.Reg, p.Type)
	}

	b = append(b, ')')
	b = appendResults(b, f.Results)
	b = append(b, '\n')

	if r := f.Resilient; r != nil {
		b = fmt.Appendf(b, "  resilient attempts=%d timeout=%d backoff=%v\n", r.MaxAttempts, r.TimeoutMs, r.Backoff)
	}

	for _, blk := range f.Blocks {
		b = fmt.Appendf(b, "b%d:\n", blk.Label)

		for _, x := range blk.Code {
			b = append(b, '\t')
			b = appendInst(b, x)
			b = append(b, '\n')
		}
	}

	return b
}

func appendSig(b []byte, name string, params, results []tp.Type) []byte {
	b = append(b, name...)
	b = append(b, '(')

	for i, p := range params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = fmt.Appendf(b, "%v", p)
	}

	b = append(b, ')')

	return appendResults(b, results)
}

func appendResults(b []byte, results []tp.Type) []byte {
	switch len(results) {
	case 0:
	case 1:
		b = fmt.Appendf(b, " -> %v", results[0])
	default:
		b = append(b, " -> ("...)

		for i, r := range results {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = fmt.Appendf(b, "%v", r)
		}

		b = append(b, ')')
	}

	return b
}

func appendInst(b []byte, x any) []byte {
	switch x := x.(type) {
	case Imm:
		return fmt.Appendf(b, "r%d = imm %v %d", x.Dst, x.Type, x.Val)
	case FImm:
		return fmt.Appendf(b, "r%d = fimm %v %v", x.Dst, x.Type, x.Val)
	case SImm:
		return fmt.Appendf(b, "r%d = str s%d", x.Dst, x.Str)
	case Bin:
		return fmt.Appendf(b, "r%d = %v %v r%d, r%d", x.Dst, x.Op, x.Type, x.L, x.R)
	case Cmp:
		return fmt.Appendf(b, "r%d = cmp %v %v r%d, r%d", x.Dst, x.Cond, x.Type, x.L, x.R)
	case Un:
		return fmt.Appendf(b, "r%d = %v %v r%d", x.Dst, x.Op, x.Type, x.X)
	case Alloc:
		return fmt.Appendf(b, "r%d = alloc %v", x.Dst, x.Type)
	case Load:
		return fmt.Appendf(b, "r%d = load %v [r%d]", x.Dst, x.Type, x.Addr)
	case Store:
		return fmt.Appendf(b, "store %v [r%d], r%d", x.Type, x.Addr, x.Val)
	case MakeTuple:
		b = fmt.Appendf(b, "r%d = tuple %v", x.Dst, x.Type)
		return appendRegs(b, x.Elems)
	case TupleGet:
		return fmt.Appendf(b, "r%d = get %v r%d.%d", x.Dst, x.Type, x.Tuple, x.Index)
	case Elem:
		return fmt.Appendf(b, "r%d = elem %v r%d[r%d]", x.Dst, x.Type, x.Base, x.Index)
	case Call:
		for i, d := range x.Dsts {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = fmt.Appendf(b, "r%d", d)
		}

		if len(x.Dsts) != 0 {
			b = append(b, " = "...)
		}

		b = append(b, "call "...)
		b = append(b, x.Func...)

		return appendRegs(b, x.Args)
	case B:
		return fmt.Appendf(b, "b b%d", x.To)
	case BCond:
		return fmt.Appendf(b, "bcond r%d, b%d, b%d", x.Cond, x.To, x.Else)
	case Ret:
		b = append(b, "ret"...)
		return appendRegs(b, x.Vals)
	}

	return fmt.Appendf(b, "inst?%T", x)
}

func appendRegs(b []byte, rs []Reg) []byte {
	for i, r := range rs {
		if i != 0 {
			b = append(b, ',')
		}

		b = fmt.Appendf(b, " r%d", r)
	}

	return b
}
