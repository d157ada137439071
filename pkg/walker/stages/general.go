package stages

import (
	"fmt"
	"io"

	"walkpipe/pkg/walker"
)

var (
	_ walker.Stage = (*evalStage)(nil)
	_ walker.Stage = (*filterStage)(nil)
	_ walker.Stage = (*headStage)(nil)
	_ walker.Stage = (*tailStage)(nil)
	_ walker.Stage = (*showStage)(nil)
)

var evalDescriptor = walker.Descriptor{
	Name: "eval",
	Tags: []string{TagGeneral},
	Doc: `Evaluate an expression for each element.

The current element is bound to cur. As the first stage the expression is
evaluated once and yields a single element.

Usage:
    eval <expression>

Example:
    eval cur + 8
    eval load(cur, "node_t", "next")`,
	Create: newEval,
}

type evalStage struct {
	ev    walker.Evaluator
	expr  walker.Template
	first bool
}

func newEval(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	t, err := wholeTemplate(env, "eval", args)
	if err != nil {
		return nil, err
	}
	return &evalStage{ev: env.Backend, expr: t, first: pos.First}, nil
}

func (s *evalStage) Iterate(in walker.Seq) walker.Seq {
	if s.first {
		return func(yield func(walker.Element, error) bool) {
			yield(s.expr.Eval(s.ev, nil))
		}
	}
	return func(yield func(walker.Element, error) bool) {
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			out, err := s.expr.Eval(s.ev, &el)
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

type filterMode int

const (
	keepIf filterMode = iota
	takeWhile
	skipUntil
)

var ifDescriptor = walker.Descriptor{
	Name: "if",
	Tags: []string{TagGeneral},
	Doc: `Keep elements for which a condition is non-zero.

Usage:
    if <condition>

Example:
    if load(cur, "node_t", "value") == 10`,
	RequiresInput: true,
	Create:        filterFactory("if", keepIf),
}

var takeWhileDescriptor = walker.Descriptor{
	Name: "take-while",
	Tags: []string{TagGeneral},
	Doc: `Pass elements through until a condition is false, then stop.

Usage:
    pipe ... | take-while <condition>`,
	RequiresInput: true,
	Create:        filterFactory("take-while", takeWhile),
}

var skipUntilDescriptor = walker.Descriptor{
	Name: "skip-until",
	Tags: []string{TagGeneral},
	Doc: `Drop elements until a condition is true, then pass the rest.

The element that satisfies the condition is dropped too.

Usage:
    pipe ... | skip-until <condition>`,
	RequiresInput: true,
	Create:        filterFactory("skip-until", skipUntil),
}

type filterStage struct {
	ev   walker.Evaluator
	cond walker.Template
	mode filterMode
}

func filterFactory(name string, mode filterMode) walker.Factory {
	return func(args string, _ walker.Position, env *walker.Env) (walker.Stage, error) {
		t, err := wholeTemplate(env, name, args)
		if err != nil {
			return nil, err
		}
		return &filterStage{ev: env.Backend, cond: t, mode: mode}, nil
	}
}

func (s *filterStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		skipping := s.mode == skipUntil
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if s.mode == skipUntil && !skipping {
				if !yield(el, nil) {
					return
				}
				continue
			}
			ok, err := s.cond.Truth(s.ev, &el)
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			switch s.mode {
			case keepIf:
				if ok && !yield(el, nil) {
					return
				}
			case takeWhile:
				if !ok || !yield(el, nil) {
					return
				}
			case skipUntil:
				if ok {
					skipping = false
				}
			}
		}
	}
}

var headDescriptor = walker.Descriptor{
	Name: "head",
	Tags: []string{TagGeneral},
	Doc: `Keep the first N elements.

A negative N keeps all but the last |N| elements.

Usage:
    head <N>`,
	RequiresInput: true,
	Create:        newHead,
}

type headStage struct {
	limit int64
}

func newHead(args string, _ walker.Position, env *walker.Env) (walker.Stage, error) {
	n, err := evalCount(env, "head", args)
	if err != nil {
		return nil, err
	}
	return &headStage{limit: n}, nil
}

func (s *headStage) Iterate(in walker.Seq) walker.Seq {
	if s.limit < 0 {
		return s.allButLast(in, int(-s.limit))
	}
	return func(yield func(walker.Element, error) bool) {
		if s.limit == 0 {
			return
		}
		var n int64
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if !yield(el, nil) {
				return
			}
			n++
			if n >= s.limit {
				return
			}
		}
	}
}

// allButLast holds back k elements and releases one for every element
// that arrives after the buffer is full.
func (s *headStage) allButLast(in walker.Seq, k int) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		held := make([]walker.Element, 0, k+1)
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			held = append(held, el)
			if len(held) > k {
				out := held[0]
				held = held[1:]
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}

var tailDescriptor = walker.Descriptor{
	Name: "tail",
	Tags: []string{TagGeneral},
	Doc: `Keep the last N elements.

A negative N drops the first |N| elements instead.

Usage:
    tail <N>`,
	RequiresInput: true,
	Create:        newTail,
}

type tailStage struct {
	limit int64
}

func newTail(args string, _ walker.Position, env *walker.Env) (walker.Stage, error) {
	n, err := evalCount(env, "tail", args)
	if err != nil {
		return nil, err
	}
	return &tailStage{limit: n}, nil
}

func (s *tailStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		if s.limit < 0 {
			skip := -s.limit
			for el, err := range walker.Input(in) {
				if err != nil {
					yield(walker.Element{}, err)
					return
				}
				if skip > 0 {
					skip--
					continue
				}
				if !yield(el, nil) {
					return
				}
			}
			return
		}

		var kept []walker.Element
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			if s.limit == 0 {
				continue
			}
			if int64(len(kept)) == s.limit {
				kept = kept[1:]
			}
			kept = append(kept, el)
		}
		for _, el := range kept {
			if !yield(el, nil) {
				return
			}
		}
	}
}

// CountType is the type of the element produced by `count`.
const CountType = "long"

var countDescriptor = walker.Descriptor{
	Name: "count",
	Tags: []string{TagGeneral},
	Doc: `Count the elements of the previous stage.

Always yields exactly one element, 0 for empty input.

Usage:
    pipe ... | count`,
	RequiresInput: true,
	Create: func(args string, _ walker.Position, _ *walker.Env) (walker.Stage, error) {
		if err := noArgs("count", args); err != nil {
			return nil, err
		}
		return walker.StageFunc(countElements), nil
	},
}

func countElements(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		var n uint64
		for _, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			n++
		}
		yield(walker.NewElement(CountType, n), nil)
	}
}

var reverseDescriptor = walker.Descriptor{
	Name: "reverse",
	Tags: []string{TagGeneral},
	Doc: `Reverse the order of the previous stage's elements.

Usage:
    pipe ... | reverse`,
	RequiresInput: true,
	Create: func(args string, _ walker.Position, _ *walker.Env) (walker.Stage, error) {
		if err := noArgs("reverse", args); err != nil {
			return nil, err
		}
		return walker.StageFunc(reverseElements), nil
	},
}

func reverseElements(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		all, err := walker.Collect(in)
		if err != nil {
			yield(walker.Element{}, err)
			return
		}
		for i := len(all) - 1; i >= 0; i-- {
			if !yield(all[i], nil) {
				return
			}
		}
	}
}

var devnullDescriptor = walker.Descriptor{
	Name: "devnull",
	Tags: []string{TagGeneral},
	Doc: `Consume the previous stage completely and yield nothing.

Usage:
    pipe ... | devnull`,
	RequiresInput: true,
	Create: func(args string, _ walker.Position, _ *walker.Env) (walker.Stage, error) {
		if err := noArgs("devnull", args); err != nil {
			return nil, err
		}
		return walker.StageFunc(drain), nil
	},
}

func drain(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		for _, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
		}
	}
}

var showDescriptor = walker.Descriptor{
	Name: "show",
	Tags: []string{TagGeneral},
	Doc: `Print each element, or an expression of it, and pass it on.

The value is printed with the backend's formatter. When show is the last
stage nothing is passed on.

Usage:
    show [expression]

Example:
    pipe linked-list head; next | show load(cur, "node_t", "value")`,
	RequiresInput: true,
	Create:        newShow,
}

type showStage struct {
	backend walker.Backend
	out     io.Writer
	expr    walker.Template
	hasExpr bool
	last    bool
}

func newShow(args string, pos walker.Position, env *walker.Env) (walker.Stage, error) {
	t, ok, err := optionalTemplate(env, args)
	if err != nil {
		return nil, err
	}
	return &showStage{backend: env.Backend, out: env.Out, expr: t, hasExpr: ok, last: pos.Last}, nil
}

func (s *showStage) Iterate(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		for el, err := range walker.Input(in) {
			if err != nil {
				yield(walker.Element{}, err)
				return
			}
			shown := el
			if s.hasExpr {
				shown, err = s.expr.Eval(s.backend, &el)
				if err != nil {
					yield(walker.Element{}, err)
					return
				}
			}
			if _, err := fmt.Fprintln(s.out, walker.FormatElement(s.backend, shown)); err != nil {
				yield(walker.Element{}, fmt.Errorf("write output: %w", err))
				return
			}
			if !s.last && !yield(el, nil) {
				return
			}
		}
	}
}
