package ir

import (
	"tlog.app/go/errors"

	"github.com/slatelang/slate/compiler/set"
)

// Verify checks the structural invariants the backend relies on:
// every block ends with exactly one terminator, branch targets exist,
// every register is assigned once, calls agree with their declared
// signatures and module metadata points at declared functions.
// The generator calls it on everything it emits.
func Verify(m *Module) error {
	ext := map[string]Extern{}

	for _, e := range m.Externs {
		if _, ok := ext[e.Name]; ok {
			return errors.New("extern %v declared twice", e.Name)
		}

		ext[e.Name] = e
	}

	fns := map[string]*Func{}

	for _, f := range m.Funcs {
		if _, ok := fns[f.Name]; ok {
			return errors.New("func %v declared twice", f.Name)
		}

		fns[f.Name] = f
	}

	for _, f := range m.Funcs {
		err := verifyFunc(m, f, ext, fns)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	for _, s := range m.Services {
		if fns[s.Func] == nil {
			return errors.New("service %v: undeclared func %v", s.Name, s.Func)
		}
	}

	for _, h := range m.Hooks {
		if fns[h.Func] == nil {
			return errors.New("hook %v: undeclared func %v", h.Event, h.Func)
		}
	}

	return nil
}

func verifyFunc(m *Module, f *Func, ext map[string]Extern, fns map[string]*Func) error {
	if len(f.Blocks) == 0 {
		return errors.New("no blocks")
	}

	labels := set.MakeBitmap(len(f.Blocks))

	for _, b := range f.Blocks {
		if b.Label < 0 {
			return errors.New("negative label b%d", b.Label)
		}

		if labels.IsSet(int(b.Label)) {
			return errors.New("duplicate label b%d", b.Label)
		}

		labels.Set(int(b.Label))
	}

	def := set.MakeBitmap(f.NRegs)

	for _, p := range f.Params {
		err := defReg(&def, f, p.Reg)
		if err != nil {
			return errors.Wrap(err, "param %v", p.Name)
		}
	}

	for _, b := range f.Blocks {
		if len(b.Code) == 0 {
			return errors.New("b%d: empty block", b.Label)
		}

		for i, x := range b.Code {
			last := i == len(b.Code)-1

			if Terminator(x) != last {
				if last {
					return errors.New("b%d: no terminator at the end", b.Label)
				}

				return errors.New("b%d: terminator inside the block", b.Label)
			}

			err := verifyInst(f, &def, &labels, x, ext, fns)
			if err != nil {
				return errors.Wrap(err, "b%d", b.Label)
			}
		}
	}

	return nil
}

func verifyInst(f *Func, def, labels *set.Bitmap, x any, ext map[string]Extern, fns map[string]*Func) error {
	switch x := x.(type) {
	case Imm:
		return defReg(def, f, x.Dst)
	case FImm:
		return defReg(def, f, x.Dst)
	case SImm:
		return defReg(def, f, x.Dst)
	case Bin:
		err := useRegs(f, x.L, x.R)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Cmp:
		err := useRegs(f, x.L, x.R)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Un:
		err := useRegs(f, x.X)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Alloc:
		return defReg(def, f, x.Dst)
	case Load:
		err := useRegs(f, x.Addr)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Store:
		return useRegs(f, x.Addr, x.Val)
	case MakeTuple:
		err := useRegs(f, x.Elems...)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case TupleGet:
		err := useRegs(f, x.Tuple)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Elem:
		err := useRegs(f, x.Base, x.Index)
		if err != nil {
			return err
		}

		return defReg(def, f, x.Dst)
	case Call:
		return verifyCall(f, def, x, ext, fns)
	case B:
		return target(labels, x.To)
	case BCond:
		err := useRegs(f, x.Cond)
		if err != nil {
			return err
		}

		err = target(labels, x.To)
		if err != nil {
			return err
		}

		return target(labels, x.Else)
	case Ret:
		if len(x.Vals) != len(f.Results) {
			return errors.New("ret carries %d values, func returns %d", len(x.Vals), len(f.Results))
		}

		return useRegs(f, x.Vals...)
	}

	return errors.New("unknown instruction %T", x)
}

func verifyCall(f *Func, def *set.Bitmap, x Call, ext map[string]Extern, fns map[string]*Func) error {
	err := useRegs(f, x.Args...)
	if err != nil {
		return err
	}

	var nparams, nresults int

	if x.Extern {
		sig, ok := ext[x.Func]
		if !ok {
			return errors.New("call to undeclared extern %v", x.Func)
		}

		nparams, nresults = len(sig.Params), len(sig.Results)
	} else {
		callee, ok := fns[x.Func]
		if !ok {
			return errors.New("call to undeclared func %v", x.Func)
		}

		nparams, nresults = len(callee.Params), len(callee.Results)
	}

	if len(x.Args) != nparams {
		return errors.New("call %v: %d args, want %d", x.Func, len(x.Args), nparams)
	}

	// results may be discarded wholesale, never partially
	if len(x.Dsts) != 0 && len(x.Dsts) != nresults {
		return errors.New("call %v: %d dsts, want %d", x.Func, len(x.Dsts), nresults)
	}

	for _, d := range x.Dsts {
		err = defReg(def, f, d)
		if err != nil {
			return err
		}
	}

	return nil
}

func defReg(def *set.Bitmap, f *Func, r Reg) error {
	if r < 0 || int(r) >= f.NRegs {
		return errors.New("r%d out of range [0:%d)", r, f.NRegs)
	}

	if def.IsSet(int(r)) {
		return errors.New("r%d assigned twice", r)
	}

	def.Set(int(r))

	return nil
}

func useRegs(f *Func, rs ...Reg) error {
	for _, r := range rs {
		if r < 0 || int(r) >= f.NRegs {
			return errors.New("r%d out of range [0:%d)", r, f.NRegs)
		}
	}

	return nil
}

func target(labels *set.Bitmap, l Label) error {
	if l < 0 || !labels.IsSet(int(l)) {
		return errors.New("branch to unknown block b%d", l)
	}

	return nil
}

// Reachable returns the set of block indexes a path from the entry
// reaches. Exposed for trace dumps.
func Reachable(f *Func) set.Bitmap {
	seen := set.MakeBitmap(len(f.Blocks))

	if len(f.Blocks) == 0 {
		return seen
	}

	index := map[Label]int{}
	for i, b := range f.Blocks {
		index[b.Label] = i
	}

	queue := []int{0}
	seen.Set(0)

	for len(queue) != 0 {
		b := f.Blocks[queue[0]]
		queue = queue[1:]

		if len(b.Code) == 0 {
			continue
		}

		push := func(l Label) {
			i, ok := index[l]
			if !ok || seen.IsSet(i) {
				return
			}

			seen.Set(i)
			queue = append(queue, i)
		}

		switch t := b.Code[len(b.Code)-1].(type) {
		case B:
			push(t.To)
		case BCond:
			push(t.To)
			push(t.Else)
		}
	}

	return seen
}

// SweepUnreachable drops blocks no path from the entry reaches.
// Labels of the surviving blocks are unchanged.
func SweepUnreachable(f *Func) (removed int) {
	seen := Reachable(f)

	if seen.Size() == len(f.Blocks) {
		return 0
	}

	kept := f.Blocks[:0]

	for i, b := range f.Blocks {
		if seen.IsSet(i) {
			kept = append(kept, b)
		}
	}

	removed = len(f.Blocks) - len(kept)
	f.Blocks = kept

	return removed
}
