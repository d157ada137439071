package walker

import (
	"fmt"
	"log/slog"
	"strings"
)

// PipeSeparator separates stage definitions in pipeline text.
const PipeSeparator = "|"

// Compiler turns pipeline text into linked stages.
type Compiler struct {
	registry     *Registry
	env          *Env
	defaultStage string
	observer     Observer
	log          *slog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithDefaultStage re-routes segments whose first word is not a registered
// stage to the named stage, passing the whole segment as its arguments.
// This is the deprecated convenience of older pipelines; without it an
// unknown name is an UnknownStageError.
func WithDefaultStage(name string) CompilerOption {
	return func(c *Compiler) { c.defaultStage = name }
}

// WithObserver attaches an observer to every pipeline the compiler builds.
func WithObserver(obs Observer) CompilerOption {
	return func(c *Compiler) { c.observer = obs }
}

// WithLogger sets the compiler's logger.
func WithLogger(l *slog.Logger) CompilerOption {
	return func(c *Compiler) { c.log = l }
}

// NewCompiler returns a compiler resolving stages from reg and handing env
// to every stage factory.
func NewCompiler(reg *Registry, env *Env, opts ...CompilerOption) *Compiler {
	c := &Compiler{registry: reg, env: env}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default().With(slog.String("component", "pipeline"))
	}
	return c
}

// Registry returns the registry the compiler resolves names against.
func (c *Compiler) Registry() *Registry { return c.registry }

// SplitPipeline splits text on unescaped '|' and unescapes "\|".
func SplitPipeline(text string) []string {
	return splitEscaped(text, PipeSeparator)
}

type segment struct {
	desc Descriptor
	args string
	pos  Position
}

// Compile parses text, checks stage positions and instantiates every stage.
// No element is produced and no stage runs until the returned pipeline's
// sequence is consumed.
func (c *Compiler) Compile(text string) (*Pipeline, error) {
	return c.compile(text, false)
}

// CompileContinuation compiles text as the tail of a longer pipeline: its
// first stage is not in first position and must be fed through Feed or
// Connect.
func (c *Compiler) CompileContinuation(text string) (*Pipeline, error) {
	return c.compile(text, true)
}

func (c *Compiler) compile(text string, continuation bool) (*Pipeline, error) {
	if strings.TrimSpace(text) == "" {
		return nil, argumentf("", "empty pipeline")
	}
	parts := SplitPipeline(text)

	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		pos := Position{First: i == 0 && !continuation, Last: i == len(parts)-1}
		seg, err := c.resolve(part, pos)
		if err != nil {
			emitEvent(c.observer, Event{Type: EventError, Pipeline: text, Index: i, Error: err})
			return nil, err
		}
		segments = append(segments, seg)
	}

	env := c.env.fork()
	p := &Pipeline{text: text, observer: c.observer, continuation: continuation}
	for i, seg := range segments {
		st, err := seg.desc.Create(seg.args, seg.pos, env)
		if err != nil {
			err = Fail(seg.desc.Name, err)
			emitEvent(c.observer, Event{Type: EventError, Pipeline: text, Stage: seg.desc.Name, Index: i, Error: err})
			return nil, err
		}
		p.stages = append(p.stages, boundStage{name: seg.desc.Name, args: seg.args, stage: st})
		emitEvent(c.observer, Event{Type: EventStageCreated, Pipeline: text, Stage: seg.desc.Name, Index: i})
	}

	c.log.Debug("compiled pipeline", slog.String("pipeline", text), slog.Any("stages", p.Names()))
	emitEvent(c.observer, Event{Type: EventCompiled, Pipeline: text, Count: len(p.stages)})
	return p, nil
}

// resolve finds the descriptor for one segment and checks its position.
func (c *Compiler) resolve(part string, pos Position) (segment, error) {
	def := strings.TrimSpace(part)
	if def == "" {
		return segment{}, argumentf("", "empty stage definition")
	}
	name, args := def, ""
	if i := strings.IndexAny(def, " \t\n"); i >= 0 {
		name, args = def[:i], strings.TrimSpace(def[i+1:])
	}

	desc, ok := c.registry.Lookup(name)
	if !ok {
		if c.defaultStage == "" {
			return segment{}, &UnknownStageError{Name: name, Suggestions: c.registry.Suggest(name)}
		}
		fallback, found := c.registry.Lookup(c.defaultStage)
		if !found {
			return segment{}, &UnknownStageError{Name: c.defaultStage}
		}
		desc, args = fallback, def
	}

	if desc.RequiresInput && pos.First {
		return segment{}, &PositionError{Stage: desc.Name, Msg: "requires input and cannot be first"}
	}
	if desc.RequiresFollower && pos.Last {
		return segment{}, &PositionError{Stage: desc.Name, Msg: "must be followed by another stage and cannot be last"}
	}
	return segment{desc: desc, args: args, pos: pos}, nil
}

// Run compiles text and returns its output sequence.
func (c *Compiler) Run(text string) (Seq, error) {
	p, err := c.Compile(text)
	if err != nil {
		return nil, err
	}
	return p.Seq(), nil
}

type boundStage struct {
	name  string
	args  string
	stage Stage
}

// Pipeline is an ordered chain of bound stages. It is built per invocation
// and is meant to be consumed once.
type Pipeline struct {
	text         string
	stages       []boundStage
	observer     Observer
	continuation bool
}

// Text returns the source the pipeline was compiled from.
func (p *Pipeline) Text() string { return p.text }

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.name
	}
	return names
}

// String renders the pipeline in canonical "name args | ..." form.
func (p *Pipeline) String() string {
	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		def := s.name
		if s.args != "" {
			def += " " + strings.ReplaceAll(s.args, PipeSeparator, `\`+PipeSeparator)
		}
		parts[i] = def
	}
	return strings.Join(parts, " "+PipeSeparator+" ")
}

// Seq links the stages and returns the final lazy sequence. The first stage
// receives no input.
func (p *Pipeline) Seq() Seq {
	return p.Feed(nil)
}

// Feed links the stages with in as the first stage's input.
func (p *Pipeline) Feed(in Seq) Seq {
	seq := in
	for i, s := range p.stages {
		seq = p.observe(s.stage.Iterate(seq), s.name, i)
	}
	return p.terminal(seq)
}

// observe attributes errors to the stage that produced them and reports
// each yielded element.
func (p *Pipeline) observe(seq Seq, name string, index int) Seq {
	return func(yield func(Element, error) bool) {
		if seq == nil {
			return
		}
		for el, err := range seq {
			if err != nil {
				yield(Element{}, Fail(name, err))
				return
			}
			emitEvent(p.observer, Event{Type: EventYield, Pipeline: p.text, Stage: name, Index: index, Element: el})
			if !yield(el, nil) {
				return
			}
		}
	}
}

func (p *Pipeline) terminal(seq Seq) Seq {
	return func(yield func(Element, error) bool) {
		count := 0
		for el, err := range seq {
			if err != nil {
				emitEvent(p.observer, Event{Type: EventError, Pipeline: p.text, Count: count, Error: err})
				yield(Element{}, err)
				return
			}
			count++
			if !yield(el, nil) {
				emitEvent(p.observer, Event{Type: EventStopped, Pipeline: p.text, Count: count})
				return
			}
		}
		emitEvent(p.observer, Event{Type: EventComplete, Pipeline: p.text, Count: count})
	}
}

// Connect feeds the output of a into b, the composition of two compiled
// pipelines. b must come from CompileContinuation: a first stage compiled
// in first position ignores its input.
func Connect(a, b *Pipeline) Seq {
	if !b.continuation && len(b.stages) > 0 {
		return Failed(&PositionError{
			Stage: b.stages[0].name,
			Msg:   "was compiled in first position and cannot take input; use CompileContinuation",
		})
	}
	return b.Feed(a.Seq())
}

// Describe returns a one-line summary of the pipeline for diagnostics.
func (p *Pipeline) Describe() string {
	return fmt.Sprintf("%d stage(s): %s", len(p.stages), strings.Join(p.Names(), " -> "))
}
