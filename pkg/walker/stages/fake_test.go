package stages

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"walkpipe/pkg/walker"
)

// fakeBackend is a small in-memory backend. It understands integer
// literals, `cur`, `cur <op> <int>` arithmetic and comparisons, and any
// expression registered in exprs. Members are looked up by address.
type fakeBackend struct {
	sizes    map[string]uint64
	exprs    map[string]func(cur *walker.Element) (walker.Element, error)
	members  map[uint64]map[string]walker.Element
	routines []walker.Routine
	code     map[uint64][]walker.Instruction
	calls    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sizes:   map[string]uint64{"char": 1, "short": 2, "int": 4, "long": 8, "char *": 8, "node_t": 16},
		exprs:   map[string]func(cur *walker.Element) (walker.Element, error){},
		members: map[uint64]map[string]walker.Element{},
		code:    map[uint64][]walker.Instruction{},
	}
}

var curArith = regexp.MustCompile(`^cur\s*(\+|-|==|!=|<|>|%)\s*(\S+)$`)

func (f *fakeBackend) SizeOf(typ string) (uint64, error) {
	if size, ok := f.sizes[typ]; ok {
		return size, nil
	}
	return 0, fmt.Errorf("no type named %q", typ)
}

func (f *fakeBackend) Evaluate(text string, cur *walker.Element) (walker.Element, error) {
	f.calls++
	text = strings.TrimSpace(text)
	if fn, ok := f.exprs[text]; ok {
		return fn(cur)
	}
	if v, err := strconv.ParseInt(text, 0, 64); err == nil {
		return walker.NewElement("long", uint64(v)), nil
	}
	if cur == nil {
		return walker.Element{}, fmt.Errorf("cannot evaluate %q", text)
	}
	if text == walker.CurrentIdent {
		return *cur, nil
	}
	m := curArith.FindStringSubmatch(text)
	if m == nil {
		return walker.Element{}, fmt.Errorf("cannot evaluate %q", text)
	}
	n, err := strconv.ParseInt(m[2], 0, 64)
	if err != nil {
		return walker.Element{}, fmt.Errorf("cannot evaluate %q", text)
	}
	v := int64(cur.Value)
	b := func(ok bool) walker.Element {
		if ok {
			return walker.NewElement("int", 1)
		}
		return walker.NewElement("int", 0)
	}
	switch m[1] {
	case "+":
		return walker.NewElement(cur.Type, uint64(v+n)), nil
	case "-":
		return walker.NewElement(cur.Type, uint64(v-n)), nil
	case "%":
		return walker.NewElement("long", uint64(v%n)), nil
	case "==":
		return b(v == n), nil
	case "!=":
		return b(v != n), nil
	case "<":
		return b(v < n), nil
	default:
		return b(v > n), nil
	}
}

func (f *fakeBackend) LoadMember(el walker.Element, member string) (walker.Element, error) {
	fields, ok := f.members[el.Value]
	if !ok {
		return walker.Element{}, fmt.Errorf("cannot access memory at %#x", el.Value)
	}
	v, ok := fields[member]
	if !ok {
		return walker.Element{}, fmt.Errorf("no member named %q", member)
	}
	return v, nil
}

func (f *fakeBackend) RoutineOf(addr uint64) (walker.Routine, bool, error) {
	for _, r := range f.routines {
		if addr >= r.Start && addr < r.End {
			return r, true, nil
		}
	}
	return walker.Routine{}, false, nil
}

func (f *fakeBackend) Instructions(start, end uint64) ([]walker.Instruction, error) {
	var out []walker.Instruction
	for _, insn := range f.code[start] {
		if insn.Address < end {
			out = append(out, insn)
		}
	}
	return out, nil
}

// routine adds a function at start with the given direct call targets.
func (f *fakeBackend) routine(name, file string, start uint64, calls ...uint64) {
	f.routines = append(f.routines, walker.Routine{Name: name, Start: start, End: start + 0x100, File: file})
	insns := []walker.Instruction{{Address: start, Text: "push %rbp"}}
	for i, target := range calls {
		insns = append(insns, walker.Instruction{
			Address: start + uint64(i+1)*5,
			Text:    fmt.Sprintf("call 0x%x <fn_%x>", target, target),
		})
	}
	insns = append(insns, walker.Instruction{Address: start + 0xff, Text: "ret"})
	f.code[start] = insns
}

// evalOnly hides every optional capability of a backend.
type evalOnly struct{ walker.Evaluator }

type harness struct {
	t        *testing.T
	backend  *fakeBackend
	out      *bytes.Buffer
	compiler *walker.Compiler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fb := newFakeBackend()
	out := &bytes.Buffer{}
	reg := NewRegistry()
	if err := reg.Register(valuesDescriptor); err != nil {
		t.Fatal(err)
	}
	return &harness{
		t:        t,
		backend:  fb,
		out:      out,
		compiler: walker.NewCompiler(reg, walker.NewEnv(fb, out)),
	}
}

func (h *harness) run(text string) ([]walker.Element, error) {
	h.t.Helper()
	seq, err := h.compiler.Run(text)
	if err != nil {
		return nil, err
	}
	return walker.Collect(seq)
}

func (h *harness) values(text string) []uint64 {
	h.t.Helper()
	els, err := h.run(text)
	if err != nil {
		h.t.Fatalf("%q: %v", text, err)
	}
	out := make([]uint64, len(els))
	for i, el := range els {
		out[i] = el.Value
	}
	return out
}

// valuesDescriptor is a test-only generator: `values 1 2 3` yields those
// numbers as longs.
var valuesDescriptor = walker.Descriptor{
	Name: "values",
	Create: func(args string, _ walker.Position, _ *walker.Env) (walker.Stage, error) {
		var els []walker.Element
		for _, f := range strings.Fields(args) {
			v, err := strconv.ParseUint(f, 0, 64)
			if err != nil {
				return nil, walker.Argumentf("values", "bad value %q", f)
			}
			els = append(els, walker.NewElement("long", v))
		}
		return walker.StageFunc(func(walker.Seq) walker.Seq { return walker.FromSlice(els...) }), nil
	},
}
