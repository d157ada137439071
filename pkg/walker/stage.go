package walker

import (
	"io"
	"iter"
	"log/slog"
	"os"
)

// Seq is the lazy sequence every stage consumes and produces. A non-nil
// error is always the last pair a sequence yields.
type Seq = iter.Seq2[Element, error]

// Stage is a constructed walker bound to its parsed arguments.
type Stage interface {
	// Iterate returns the stage's output sequence. in is nil when the stage
	// is first in its pipeline.
	Iterate(in Seq) Seq
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc func(in Seq) Seq

func (f StageFunc) Iterate(in Seq) Seq { return f(in) }

// Position tells a factory where its stage sits in the pipeline.
type Position struct {
	First bool
	Last  bool
}

// Factory builds a Stage from its raw argument text.
type Factory func(args string, pos Position, env *Env) (Stage, error)

// Descriptor identifies a stage kind and its positional constraints.
type Descriptor struct {
	Name string
	Tags []string
	// Doc is the help text; its first line is the one-line summary.
	Doc string
	// RequiresInput stages cannot be first.
	RequiresInput bool
	// RequiresFollower stages cannot be last.
	RequiresFollower bool
	Create           Factory
}

// Summary returns the first line of the descriptor's documentation.
func (d Descriptor) Summary() string {
	for i, r := range d.Doc {
		if r == '\n' {
			return d.Doc[:i]
		}
	}
	return d.Doc
}

// HasTag reports whether the descriptor carries tag.
func (d Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Env is the explicit context handed to every stage factory. It replaces
// process-wide scratch state: the current element is passed to each
// evaluation directly and per-pipeline shared values live in Scope.
type Env struct {
	Backend Backend
	// Out receives output from display stages such as `show`.
	Out    io.Writer
	Logger *slog.Logger

	scope map[string]any
}

// NewEnv returns an Env over the backend writing display output to out.
func NewEnv(b Backend, out io.Writer) *Env {
	if out == nil {
		out = os.Stdout
	}
	return &Env{Backend: b, Out: out, Logger: slog.Default()}
}

// fork returns a copy with a fresh scope for one pipeline compilation.
func (e *Env) fork() *Env {
	c := *e
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	c.scope = make(map[string]any)
	return &c
}

// Publish stores a value visible to stages compiled later in the same pipeline.
func (e *Env) Publish(key string, v any) {
	if e.scope == nil {
		e.scope = make(map[string]any)
	}
	e.scope[key] = v
}

// Lookup returns a value published earlier in the same pipeline.
func (e *Env) Lookup(key string) (any, bool) {
	v, ok := e.scope[key]
	return v, ok
}

// Evaluate evaluates text through the backend, binding cur when non-nil.
func (e *Env) Evaluate(text string, cur *Element) (Element, error) {
	return e.Backend.Evaluate(text, cur)
}

// EvalInt evaluates text with no current element and returns it as a
// signed integer.
func (e *Env) EvalInt(text string) (int64, error) {
	el, err := e.Backend.Evaluate(text, nil)
	if err != nil {
		return 0, err
	}
	return int64(el.Value), nil
}
