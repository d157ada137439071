// Package stages is the generic stage library: map, filter, bound,
// aggregate and traversal walkers, plus the call-graph walker. Register
// installs all of them into a walker.Registry at startup.
package stages

import (
	"errors"
	"fmt"
	"strings"

	"walkpipe/pkg/walker"
)

// Tags used by the built-in stages.
const (
	TagGeneral = "general"
	TagData    = "data"
	TagCode    = "code"
)

// fieldSep separates positional fields inside a stage's argument text.
const fieldSep = ";"

// Descriptors returns the static table of built-in stages.
func Descriptors() []walker.Descriptor {
	return []walker.Descriptor{
		evalDescriptor,
		ifDescriptor,
		takeWhileDescriptor,
		skipUntilDescriptor,
		headDescriptor,
		tailDescriptor,
		countDescriptor,
		reverseDescriptor,
		devnullDescriptor,
		showDescriptor,
		sortDescriptor,
		maxDescriptor,
		minDescriptor,
		dedupDescriptor,
		arrayDescriptor,
		followUntilDescriptor,
		terminatedDescriptor,
		linkedListDescriptor,
		nestedListDescriptor,
		instructionsDescriptor,
		calledFunctionsDescriptor,
		callStackDescriptor,
	}
}

// Register installs every built-in stage into r. All descriptors are
// attempted; the returned error joins every rejection.
func Register(r *walker.Registry) error {
	var errs []error
	for _, d := range Descriptors() {
		if err := r.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the built-in stages.
func NewRegistry() *walker.Registry {
	r := walker.NewRegistry()
	r.MustRegister(Descriptors()...)
	return r
}

func splitFields(env *walker.Env, stage, args string, arity walker.Arity) ([]string, error) {
	return walker.ParseArgs(stage, args, fieldSep, arity, env.Backend)
}

// wholeTemplate treats the entire argument text as one expression.
func wholeTemplate(env *walker.Env, stage, args string) (walker.Template, error) {
	expanded, err := walker.ExpandEager(args, env.Backend)
	if err != nil {
		return walker.Template{}, err
	}
	if strings.TrimSpace(expanded) == "" {
		return walker.Template{}, walker.Argumentf(stage, "takes 1 argument(s), got 0")
	}
	return walker.NewTemplate(expanded), nil
}

// optionalTemplate is wholeTemplate for stages whose expression may be
// omitted. ok is false when the argument text is empty.
func optionalTemplate(env *walker.Env, args string) (t walker.Template, ok bool, err error) {
	expanded, err := walker.ExpandEager(args, env.Backend)
	if err != nil {
		return walker.Template{}, false, err
	}
	if strings.TrimSpace(expanded) == "" {
		return walker.Template{}, false, nil
	}
	return walker.NewTemplate(expanded), true, nil
}

func noArgs(stage, args string) error {
	if strings.TrimSpace(args) != "" {
		return walker.Argumentf(stage, "takes no arguments, got %q", strings.TrimSpace(args))
	}
	return nil
}

// evalCount evaluates a numeric argument through the backend.
func evalCount(env *walker.Env, stage, text string) (int64, error) {
	fields, err := walker.ParseArgs(stage, text, "", walker.Exactly(1), env.Backend)
	if err != nil {
		return 0, err
	}
	return env.EvalInt(fields[0])
}

// signed evaluates t against cur and returns the result as a signed integer.
func signed(ev walker.Evaluator, t walker.Template, cur *walker.Element) (int64, error) {
	el, err := t.Eval(ev, cur)
	if err != nil {
		return 0, err
	}
	return int64(el.Value), nil
}

func unsupported(stage, capability string) error {
	return fmt.Errorf("%w: stage %q needs a backend with %s", walker.ErrUnsupported, stage, capability)
}
