package stages

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"walkpipe/pkg/walker"
)

var (
	_ walker.Stage = (*calledFunctions)(nil)
	_ walker.Stage = (*callStackStage)(nil)
)

// callGraphKey is the Env scope key under which the most recently compiled
// called-functions walker publishes itself.
const callGraphKey = "called-functions"

// callTargetName matches the "<name>" part of a direct call. Names carrying
// an '@' are linker stubs and are not followed.
var callTargetName = regexp.MustCompile(`^<[^@]*>`)

// DecodeCall extracts the target of a direct call in gdb's disassembly
// text. Indirect calls, jumps and @plt stubs are not recognised.
func DecodeCall(insn walker.Instruction) (uint64, bool) {
	parts := strings.Fields(insn.Text)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "call") {
		return 0, false
	}
	if !callTargetName.MatchString(parts[2]) {
		return 0, false
	}
	target, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(parts[1]), "0x"), 16, 64)
	if err != nil {
		return 0, false
	}
	return target, true
}

var calledFunctionsDescriptor = walker.Descriptor{
	Name: "called-functions",
	Tags: []string{TagData, TagCode},
	Doc: `Walk the call tree below a function.

Starting from each seed, yields every function reachable through direct
calls, depth first in call order, up to maxdepth levels below the seed
(a negative maxdepth is unbounded). Functions defined in files that do
not match file-regex are skipped, which keeps the walk out of libraries.
A function already on the current hypothetical call stack is not entered
again. With "unique" each function is yielded at most once per seed.

Jumps to functions, indirect calls and @plt stubs are not followed.

Usage:
    called-functions start; file-regex; maxdepth [; unique]
    pipe ... | called-functions file-regex; maxdepth [; unique]

Example:
    called-functions main; src/.*; 3
    pipe called-functions main; .*; -1 | hypothetical-call-stack`,
	Create: newCalledFunctions,
}

type frame struct {
	addr  uint64
	depth int
}

// calledFunctions is the call-graph walker. path is the hypothetical call
// stack: path[d] is the function currently being explored at depth d.
type calledFunctions struct {
	dis      walker.Disassembler
	decode   func(walker.Instruction) (uint64, bool)
	file     *regexp.Regexp
	maxdepth int64
	unique   bool
	seed     *walker.Element

	path []walker.Element
}

func newCalledFunctions(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	dis, ok := env.Backend.(walker.Disassembler)
	if !ok {
		return nil, unsupported("called-functions", "disassembly")
	}
	arity := walker.Between(2, 3)
	if pos.First {
		arity = walker.Between(3, 4)
	}
	fields, err := splitFields(env, "called-functions", args, arity)
	if err != nil {
		return nil, err
	}

	s := &calledFunctions{dis: dis, decode: DecodeCall}
	if t, ok := env.Backend.(walker.CallTargeter); ok {
		s.decode = t.CallTarget
	}
	if pos.First {
		seed, err := env.Evaluate(fields[0], nil)
		if err != nil {
			return nil, err
		}
		s.seed = &seed
		fields = fields[1:]
	}

	if s.file, err = regexp.Compile(`^(?:` + fields[0] + `)`); err != nil {
		return nil, walker.Argumentf("called-functions", "file-regex: %v", err)
	}
	if s.maxdepth, err = env.EvalInt(fields[1]); err != nil {
		return nil, err
	}
	if len(fields) == 3 {
		if s.unique, err = parseUnique(env, fields[2]); err != nil {
			return nil, err
		}
	}

	env.Publish(callGraphKey, s)
	return s, nil
}

func parseUnique(env *walker.Env, field string) (bool, error) {
	if strings.EqualFold(field, "unique") {
		return true, nil
	}
	n, err := env.EvalInt(field)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (s *calledFunctions) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		if s.seed != nil {
			s.walk(*s.seed, yield)
			return
		}
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if !s.walk(el, yield) {
				return
			}
		}
	}
}

func (s *calledFunctions) onPath(addr uint64) bool {
	for i := len(s.path) - 1; i >= 0; i-- {
		if s.path[i].Value == addr {
			return true
		}
	}
	return false
}

// walk explores the call tree below seed with an explicit work stack. It
// reports whether the caller should keep going.
func (s *calledFunctions) walk(seed walker.Element, yield func(walker.Element, error) bool) bool {
	s.path = s.path[:0]
	var seen map[uint64]bool
	if s.unique {
		seen = make(map[uint64]bool)
	}

	work := []frame{{addr: seed.Value, depth: 0}}
	for len(work) > 0 {
		f := work[len(work)-1]
		work = work[:len(work)-1]
		if s.maxdepth >= 0 && int64(f.depth) > s.maxdepth {
			continue
		}
		if seen[f.addr] {
			continue
		}

		r, ok, err := s.dis.RoutineOf(f.addr)
		if err != nil {
			yield(walker.Element{}, err)
			return false
		}
		if !ok || !s.file.MatchString(r.File) {
			continue
		}

		el := walker.NewElement(seed.Type, f.addr)
		s.path = append(s.path[:min(f.depth, len(s.path))], el)
		if seen != nil {
			seen[f.addr] = true
		}
		if !yield(el, nil) {
			return false
		}

		if s.maxdepth >= 0 && int64(f.depth+1) > s.maxdepth {
			continue
		}
		insns, err := s.dis.Instructions(r.Start, r.End)
		if err != nil {
			yield(walker.Element{}, err)
			return false
		}
		for i := len(insns) - 1; i >= 0; i-- {
			target, ok := s.decode(insns[i])
			if !ok || target == 0 || s.onPath(target) || seen[target] {
				continue
			}
			work = append(work, frame{addr: target, depth: f.depth + 1})
		}
	}
	return true
}

// Stack returns a copy of the current hypothetical call stack, outermost
// function first.
func (s *calledFunctions) Stack() []walker.Element {
	return slices.Clone(s.path)
}

var callStackDescriptor = walker.Descriptor{
	Name: "hypothetical-call-stack",
	Tags: []string{TagData, TagCode},
	Doc: `Yield the hypothetical call stack of the preceding called-functions.

For every incoming element, yields the functions on the call stack that
called-functions is exploring at that moment, outermost first. The
addresses are function entry points, not call sites.

Usage:
    pipe called-functions main; .*; -1 | if <condition> | hypothetical-call-stack`,
	RequiresInput: true,
	Create:        newCallStack,
}

type callStackStage struct {
	walker *calledFunctions
}

func newCallStack(args string, _ walker.Position, env *walker.Env) (walker.Stage, error) {
	if err := noArgs("hypothetical-call-stack", args); err != nil {
		return nil, err
	}
	v, ok := env.Lookup(callGraphKey)
	if !ok {
		return nil, walker.Argumentf("hypothetical-call-stack", "no called-functions stage earlier in the pipeline")
	}
	cf, ok := v.(*calledFunctions)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %T published as %q", walker.ErrProtocolViolation, v, callGraphKey)
	}
	return &callStackStage{walker: cf}, nil
}

func (s *callStackStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		for _, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			for _, el := range s.walker.Stack() {
				if !yield(el, nil) {
					return
				}
			}
		}
	}
}
