// Package abi fixes the contract between generated code and the native
// runtime: the status code space and the table of externally declared
// functions. The core never implements these functions; it only knows
// their signatures so calls can be checked and declared.
//
// Table names are the names code generation emits: bare sl_* names for
// runtime primitives backing the builtins, dotted names for OS module
// operations. Mapping dotted names to linker symbols is the external
// backend's business.
package abi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slatelang/slate/compiler/tp"
)

type (
	// Status is the sole error-signaling convention of generated code.
	// The enumeration is stable: append, never renumber.
	Status int32

	Signature struct {
		Name    string
		Params  []tp.Type
		Results []tp.Type
	}

	// Table maps qualified external names to fixed signatures.
	// It is immutable configuration once handed to the pipeline.
	Table struct {
		sigs    map[string]Signature
		modules map[string]bool
	}
)

const (
	Success Status = iota
	GenericError
	AccessDenied
	Timeout
	NotFound
	InvalidParameter
	OutOfMemory
	BufferTooSmall
	NotImplemented
)

// Statuses are the named constants predeclared for source programs.
var Statuses = map[string]Status{
	"SUCCESS":           Success,
	"GENERIC_ERROR":     GenericError,
	"ACCESS_DENIED":     AccessDenied,
	"TIMEOUT":           Timeout,
	"NOT_FOUND":         NotFound,
	"INVALID_PARAMETER": InvalidParameter,
	"OUT_OF_MEMORY":     OutOfMemory,
	"BUFFER_TOO_SMALL":  BufferTooSmall,
	"NOT_IMPLEMENTED":   NotImplemented,
}

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case GenericError:
		return "GENERIC_ERROR"
	case AccessDenied:
		return "ACCESS_DENIED"
	case Timeout:
		return "TIMEOUT"
	case NotFound:
		return "NOT_FOUND"
	case InvalidParameter:
		return "INVALID_PARAMETER"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case BufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	}

	return fmt.Sprintf("STATUS_%d", int32(s))
}

// New builds a table from signatures.
func New(sigs ...Signature) *Table {
	t := &Table{
		sigs:    make(map[string]Signature, len(sigs)),
		modules: map[string]bool{},
	}

	for _, s := range sigs {
		t.add(s)
	}

	return t
}

func (t *Table) add(s Signature) {
	t.sigs[s.Name] = s

	if i := strings.LastIndexByte(s.Name, '.'); i > 0 {
		t.modules[s.Name[:i]] = true
	}
}

// With returns a copy of t extended with more signatures. The receiver
// stays untouched, so a shared default table is safe to extend per run.
func (t *Table) With(sigs ...Signature) *Table {
	n := &Table{
		sigs:    make(map[string]Signature, len(t.sigs)+len(sigs)),
		modules: map[string]bool{},
	}

	for _, s := range t.sigs {
		n.add(s)
	}

	for _, s := range sigs {
		n.add(s)
	}

	return n
}

// Lookup resolves a qualified external name.
func (t *Table) Lookup(name string) (Signature, bool) {
	s, ok := t.sigs[name]
	return s, ok
}

// HasModule reports whether any signature lives under the dotted module
// path, so imports can be validated without file-system access.
func (t *Table) HasModule(path string) bool {
	if t.modules[path] {
		return true
	}

	// a parent path of a known module is importable too
	for m := range t.modules {
		if strings.HasPrefix(m, path+".") {
			return true
		}
	}

	return false
}

// Module lists the member names directly under a module path.
func (t *Table) Module(path string) []string {
	var names []string

	pfx := path + "."

	for name := range t.sigs {
		if strings.HasPrefix(name, pfx) && !strings.Contains(name[len(pfx):], ".") {
			names = append(names, name[len(pfx):])
		}
	}

	sort.Strings(names)

	return names
}

// Names lists all external names in stable order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.sigs))

	for name := range t.sigs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

var (
	str   tp.Type = tp.String
	st    tp.Type = tp.Status
	hnd   tp.Type = tp.Handle
	u8ptr tp.Type = tp.Ptr{Elem: tp.U8}
	u8s   tp.Type = tp.Slice{Elem: tp.U8}
	stStr tp.Type = tp.Tuple{Elems: []tp.Type{tp.Status, tp.String}}
	stHnd tp.Type = tp.Tuple{Elems: []tp.Type{tp.Status, tp.Handle}}
)

func sig(name string, params []tp.Type, results ...tp.Type) Signature {
	return Signature{Name: name, Params: params, Results: results}
}

func args(ts ...tp.Type) []tp.Type { return ts }

// Default is the shipped runtime and OS binding table.
func Default() *Table {
	return New(
		// runtime primitives backing the builtins
		sig("sl_print", args(str)),
		sig("sl_println", args(str)),
		sig("sl_read_line", nil, str),
		sig("sl_alloc", args(tp.U64), u8ptr),
		sig("sl_free", args(u8ptr)),
		sig("sl_realloc", args(u8ptr, tp.U64), u8ptr),
		sig("sl_sleep", args(tp.U64)),
		sig("sl_timestamp_ms", nil, tp.U64),
		sig("sl_status_string", args(st), str),
		sig("sl_audit_log", args(str)),
		sig("sl_bounds_check", args(tp.I64, tp.I64)),
		sig("sl_string_len", args(str), tp.I64),
		sig("sl_string_index", args(str, tp.I64), tp.Char),
		sig("sl_string_concat", args(str, str), str),
		sig("sl_string_eq", args(str, str), tp.Bool),
		sig("sl_slice_len", args(u8s), tp.I64),
		sig("sl_pow_f64", args(tp.F64, tp.F64), tp.F64),

		// OS modules, visible to source code through imports
		sig("windows.registry.read_value", args(str, str), stStr),
		sig("windows.registry.write_value", args(str, str, str), st),
		sig("windows.registry.create_key", args(str), st),
		sig("windows.registry.delete_key", args(str), st),
		sig("windows.process.current_pid", nil, tp.U32),
		sig("windows.process.open_process", args(tp.U32), stHnd),
		sig("windows.process.inject_dll", args(hnd, str), st),
		sig("windows.process.create_remote_thread", args(hnd, tp.U64), stHnd),
		sig("windows.process.terminate", args(hnd), st),
		sig("windows.memory.read_process", args(hnd, tp.U64, tp.U64), tp.Tuple{Elems: []tp.Type{tp.Status, u8s}}),
		sig("windows.memory.write_process", args(hnd, tp.U64, u8s), st),
		sig("windows.service.create", args(str, str), st),
		sig("windows.service.delete", args(str), st),
		sig("windows.service.start", args(str), st),
		sig("windows.service.stop", args(str), st),
		sig("windows.service.query", args(str), tp.Tuple{Elems: []tp.Type{tp.Status, tp.U32}}),
		sig("windows.file.read", args(str), stStr),
		sig("windows.file.write", args(str, str), st),
		sig("windows.file.delete", args(str), st),
		sig("windows.file.exists", args(str), tp.Bool),
		sig("windows.hooks.install_global", args(tp.U32, hnd), stHnd),
		sig("windows.hooks.remove", args(hnd), st),
		sig("kernel.driver.load", args(str), st),
		sig("kernel.driver.unload", args(str), st),
		sig("core.memory.copy", args(u8ptr, u8ptr, tp.U64)),
		sig("core.memory.set", args(u8ptr, tp.U8, tp.U64)),
		sig("core.time.now_ms", nil, tp.U64),
		sig("core.time.sleep_ms", args(tp.U64)),
		sig("core.io.read_file", args(str), stStr),
		sig("core.io.write_file", args(str, str), st),
		sig("syscall.raw", args(tp.U64, tp.U64, tp.U64, tp.U64), tp.Tuple{Elems: []tp.Type{tp.Status, tp.U64}}),
	)
}

// Builtins maps source-level builtin functions to their runtime
// externals. len is absent: it needs per-type handling and lowers to
// sl_string_len, sl_slice_len or a constant.
var Builtins = map[string]string{
	"print":         "sl_print",
	"println":       "sl_println",
	"read_line":     "sl_read_line",
	"alloc":         "sl_alloc",
	"free":          "sl_free",
	"sleep":         "sl_sleep",
	"timestamp_ms":  "sl_timestamp_ms",
	"status_string": "sl_status_string",
}
