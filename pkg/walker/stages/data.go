package stages

import (
	"fmt"
	"strings"

	"walkpipe/pkg/walker"
)

var (
	_ walker.Stage = (*arrayStage)(nil)
	_ walker.Stage = (*followStage)(nil)
	_ walker.Stage = (*nestedListStage)(nil)
	_ walker.Stage = (*instructionsStage)(nil)
)

var arrayDescriptor = walker.Descriptor{
	Name: "array",
	Tags: []string{TagData},
	Doc: `Walk over each element of an array.

Yields count addresses starting at start, stepping by the size of the
element type. The element type is the pointee of start's type, or the
explicit type when one is given. As a later stage the fields are evaluated
for each incoming element with cur bound, and start defaults to cur.

Usage:
    If this is the first walker:
        array [type;] start; count

    Otherwise:
        array [type;] [start;] count

Example:
    array char *; argv; argc
    pipe eval table | array 16`,
	Create: newArray,
}

type arrayStage struct {
	ev       walker.Evaluator
	typ      string
	start    walker.Template
	hasStart bool
	count    walker.Template

	first bool
	seed  walker.Element
	n     int64
}

func newArray(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	arity := walker.Between(1, 3)
	if pos.First {
		arity = walker.Between(2, 3)
	}
	fields, err := splitFields(env, "array", args, arity)
	if err != nil {
		return nil, err
	}

	s := &arrayStage{ev: env.Backend, first: pos.First}
	switch len(fields) {
	case 3:
		s.typ = fields[0]
		s.start, s.hasStart = walker.NewTemplate(fields[1]), true
		s.count = walker.NewTemplate(fields[2])
	case 2:
		s.start, s.hasStart = walker.NewTemplate(fields[0]), true
		s.count = walker.NewTemplate(fields[1])
	default:
		s.count = walker.NewTemplate(fields[0])
	}
	if s.typ == "" && len(fields) == 3 {
		return nil, walker.Argumentf("array", "empty element type")
	}

	if s.first {
		if s.seed, err = s.start.Eval(s.ev, nil); err != nil {
			return nil, err
		}
		if s.n, err = signed(s.ev, s.count, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *arrayStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		if s.first {
			s.walk(s.seed, s.n, yield)
			return
		}
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			seed := el
			if s.hasStart {
				if seed, err = s.start.Eval(s.ev, &el); err != nil {
					yield(walker.Element{}, err)
					return
				}
			}
			n, err := signed(s.ev, s.count, &el)
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if !s.walk(seed, n, yield) {
				return
			}
		}
	}
}

// walk yields n consecutive elements from seed. It reports whether the
// caller should keep going.
func (s *arrayStage) walk(seed walker.Element, n int64, yield func(walker.Element, error) bool) bool {
	if s.typ != "" {
		seed = seed.Cast(walker.PointerTo(s.typ))
	}
	if n <= 0 {
		return true
	}
	stride, err := walker.Stride(s.ev, seed.Type)
	if err != nil {
		yield(walker.Element{}, err)
		return false
	}
	for i := int64(0); i < n; i++ {
		if !yield(seed.StepBy(i, stride), nil) {
			return false
		}
	}
	return true
}

// chain follows a sequence of elements from a seed until stop reports true.
type chain struct {
	stop func(cur walker.Element) (bool, error)
	next func(cur walker.Element) (walker.Element, error)
}

func (c chain) walk(cur walker.Element, yield func(walker.Element, error) bool) bool {
	for {
		done, err := c.stop(cur)
		if err != nil {
			yield(walker.Element{}, err)
			return false
		}
		if done {
			return true
		}
		if !yield(cur, nil) {
			return false
		}
		if cur, err = c.next(cur); err != nil {
			yield(walker.Element{}, err)
			return false
		}
	}
}

type followStage struct {
	chain
	seed *walker.Element
}

func (s *followStage) Iterate(in walker.Seq) walker.Seq {
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

const followUntilDoc = `Follow a "next" expression until a terminating test is true.

Starting from the seed, yields the current element, then replaces it with
the follow expression of it. Stops before yielding an element for which
the test is non-zero. As a later stage every incoming element is a seed.

Usage:
    follow-until start; test; follow
    pipe ... | follow-until test; follow

Example:
    follow-until argv; deref(cur) == 0; cur + sizeof("char *")`

var followUntilDescriptor = walker.Descriptor{
	Name:   "follow-until",
	Tags:   []string{TagData},
	Doc:    followUntilDoc,
	Create: followUntilFactory("follow-until"),
}

var terminatedDescriptor = walker.Descriptor{
	Name:   "terminated",
	Tags:   []string{TagData},
	Doc:    strings.Replace(followUntilDoc, "follow-until", "terminated", -1),
	Create: followUntilFactory("terminated"),
}

func followUntilFactory(name string) walker.Factory {
	return func(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
		arity := walker.Exactly(2)
		if pos.First {
			arity = walker.Exactly(3)
		}
		fields, err := splitFields(env, name, args, arity)
		if err != nil {
			return nil, err
		}

		s := &followStage{}
		if pos.First {
			seed, err := env.Evaluate(fields[0], nil)
			if err != nil {
				return nil, err
			}
			s.seed = &seed
			fields = fields[1:]
		}

		ev := env.Backend
		test, follow := walker.NewTemplate(fields[0]), walker.NewTemplate(fields[1])
		s.chain = chain{
			stop: func(cur walker.Element) (bool, error) { return test.Truth(ev, &cur) },
			next: func(cur walker.Element) (walker.Element, error) { return follow.Eval(ev, &cur) },
		}
		return s, nil
	}
}

var linkedListDescriptor = walker.Descriptor{
	Name: "linked-list",
	Tags: []string{TagData},
	Doc: `Walk a NULL-terminated linked list.

Follows the named member of each node until it is the null address.

Usage:
    linked-list start; next-member
    pipe ... | linked-list next-member

Example:
    linked-list head; next`,
	Create: newLinkedList,
}

func newLinkedList(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	loader, ok := env.Backend.(walker.MemberLoader)
	if !ok {
		return nil, unsupported("linked-list", "member loading")
	}
	arity := walker.Exactly(1)
	if pos.First {
		arity = walker.Exactly(2)
	}
	fields, err := splitFields(env, "linked-list", args, arity)
	if err != nil {
		return nil, err
	}

	s := &followStage{}
	if pos.First {
		seed, err := env.Evaluate(fields[0], nil)
		if err != nil {
			return nil, err
		}
		s.seed = &seed
		fields = fields[1:]
	}
	member := fields[0]
	if member == "" {
		return nil, walker.Argumentf("linked-list", "empty member name")
	}
	s.chain = chain{
		stop: func(cur walker.Element) (bool, error) { return cur.IsNull(), nil },
		next: func(cur walker.Element) (walker.Element, error) { return loader.LoadMember(cur, member) },
	}
	return s, nil
}

var nestedListDescriptor = walker.Descriptor{
	Name: "nested-list",
	Tags: []string{TagData},
	Doc: `Walk a linked list whose nodes own child lists, depth first.

Each node is yielded before its children, and its children before its
next sibling.

Usage:
    nested-list start; next-member; child-member
    pipe ... | nested-list next-member; child-member

Example:
    nested-list folds; next; nested`,
	Create: newNestedList,
}

type nestedListStage struct {
	loader      walker.MemberLoader
	next, child string
	seed        *walker.Element
}

func newNestedList(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	loader, ok := env.Backend.(walker.MemberLoader)
	if !ok {
		return nil, unsupported("nested-list", "member loading")
	}
	arity := walker.Exactly(2)
	if pos.First {
		arity = walker.Exactly(3)
	}
	fields, err := splitFields(env, "nested-list", args, arity)
	if err != nil {
		return nil, err
	}

	s := &nestedListStage{loader: loader}
	if pos.First {
		seed, err := env.Evaluate(fields[0], nil)
		if err != nil {
			return nil, err
		}
		s.seed = &seed
		fields = fields[1:]
	}
	s.next, s.child = fields[0], fields[1]
	if s.next == "" || s.child == "" {
		return nil, walker.Argumentf("nested-list", "empty member name")
	}
	return s, nil
}

func (s *nestedListStage) Iterate(in walker.Seq) walker.Seq {
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

func (s *nestedListStage) walk(root walker.Element, yield func(walker.Element, error) bool) bool {
	work := []walker.Element{root}
	for len(work) > 0 {
		node := work[len(work)-1]
		work = work[:len(work)-1]
		if node.IsNull() {
			continue
		}
		if !yield(node, nil) {
			return false
		}
		sibling, err := s.loader.LoadMember(node, s.next)
		if err != nil {
			yield(walker.Element{}, err)
			return false
		}
		child, err := s.loader.LoadMember(node, s.child)
		if err != nil {
			yield(walker.Element{}, err)
			return false
		}
		work = append(work, sibling, child)
	}
	return true
}

var instructionsDescriptor = walker.Descriptor{
	Name: "instructions",
	Tags: []string{TagCode},
	Doc: `Walk the addresses of instructions from a start address.

Covers [start, end) and at most count instructions. end may be NULL to
run to the end of the containing routine; with NULL and no count a single
instruction is produced. As a later stage each incoming element is the
start address.

Usage:
    instructions start; end; [count]
    pipe ... | instructions end; [count]

Example:
    instructions main; NULL; 10
    pipe eval main | instructions cur + 32`,
	Create: newInstructions,
}

type instructionsStage struct {
	ev       walker.Evaluator
	dis      walker.Disassembler
	start    walker.Template
	end      walker.Template
	toNull   bool
	count    walker.Template
	hasCount bool
	first    bool
}

func newInstructions(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	dis, ok := env.Backend.(walker.Disassembler)
	if !ok {
		return nil, unsupported("instructions", "disassembly")
	}
	arity := walker.Between(1, 2)
	if pos.First {
		arity = walker.Between(2, 3)
	}
	fields, err := splitFields(env, "instructions", args, arity)
	if err != nil {
		return nil, err
	}

	s := &instructionsStage{ev: env.Backend, dis: dis, first: pos.First}
	if pos.First {
		s.start = walker.NewTemplate(fields[0])
		fields = fields[1:]
	}
	if strings.EqualFold(fields[0], "NULL") {
		s.toNull = true
	} else {
		s.end = walker.NewTemplate(fields[0])
	}
	if len(fields) == 2 {
		s.count, s.hasCount = walker.NewTemplate(fields[1]), true
	}
	return s, nil
}

func (s *instructionsStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		if s.first {
			seed, err := s.start.Eval(s.ev, nil)
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			s.walk(seed, yield)
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

func (s *instructionsStage) walk(seed walker.Element, yield func(walker.Element, error) bool) bool {
	fail := func(err error) bool {
		yield(walker.Element{}, err)
		return false
	}

	limit := int64(-1)
	if s.hasCount {
		n, err := signed(s.ev, s.count, &seed)
		if err != nil {
			return fail(err)
		}
		limit = n
	}

	var end uint64
	if s.toNull {
		r, ok, err := s.dis.RoutineOf(seed.Value)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(fmt.Errorf("no routine contains %#x", seed.Value))
		}
		end = r.End
		if !s.hasCount {
			limit = 1
		}
	} else {
		el, err := s.end.Eval(s.ev, &seed)
		if err != nil {
			return fail(err)
		}
		end = el.Value
	}

	insns, err := s.dis.Instructions(seed.Value, end)
	if err != nil {
		return fail(err)
	}
	for i, insn := range insns {
		if limit >= 0 && int64(i) >= limit {
			break
		}
		if !yield(walker.NewElement(seed.Type, insn.Address), nil) {
			return false
		}
	}
	return true
}
