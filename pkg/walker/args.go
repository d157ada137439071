package walker

import (
	"regexp"
	"strings"
)

// CurrentIdent is the identifier bound to the element under evaluation.
const CurrentIdent = "cur"

var (
	eagerPattern  = regexp.MustCompile(`\$#([^#]*)#`)
	legacyPattern = regexp.MustCompile(`\{0?\}`)
)

// Arity bounds the number of fields a stage accepts. Max < 0 means unbounded.
type Arity struct {
	Min, Max int
}

// Exactly returns an Arity accepting n fields.
func Exactly(n int) Arity { return Arity{Min: n, Max: n} }

// Between returns an Arity accepting min to max fields.
func Between(min, max int) Arity { return Arity{Min: min, Max: max} }

// SplitFields splits raw into trimmed fields. An empty sep splits on
// whitespace; otherwise raw is split on each unescaped sep and "\"+sep is
// unescaped to sep. The field count is checked against arity.
func SplitFields(stage, raw, sep string, arity Arity) ([]string, error) {
	raw = strings.TrimSpace(raw)
	var fields []string
	switch {
	case raw == "":
	case sep == "":
		fields = strings.Fields(raw)
	default:
		fields = splitEscaped(raw, sep)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
	}

	n := len(fields)
	if n < arity.Min || (arity.Max >= 0 && n > arity.Max) {
		switch {
		case arity.Min == arity.Max:
			return nil, argumentf(stage, "takes %d argument(s), got %d", arity.Min, n)
		case arity.Max < 0:
			return nil, argumentf(stage, "takes at least %d argument(s), got %d", arity.Min, n)
		default:
			return nil, argumentf(stage, "takes between %d and %d arguments, got %d", arity.Min, arity.Max, n)
		}
	}
	return fields, nil
}

// splitEscaped splits s on sep, treating "\"+sep as a literal sep.
func splitEscaped(s, sep string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(s); {
		switch {
		case s[i] == '\\' && strings.HasPrefix(s[i+1:], sep):
			cur.WriteString(sep)
			i += 1 + len(sep)
		case strings.HasPrefix(s[i:], sep):
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(sep)
		default:
			cur.WriteByte(s[i])
			i++
		}
	}
	return append(parts, cur.String())
}

// ExpandEager replaces every $#expr# in raw with the hex value of expr,
// evaluated once with no current element.
func ExpandEager(raw string, ev Evaluator) (string, error) {
	var firstErr error
	out := eagerPattern.ReplaceAllStringFunc(raw, func(m string) string {
		if firstErr != nil {
			return m
		}
		expr := eagerPattern.FindStringSubmatch(m)[1]
		el, err := ev.Evaluate(expr, nil)
		if err != nil {
			firstErr = err
			return m
		}
		return el.Hex()
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ParseArgs expands $#expr# forms and then splits the result.
func ParseArgs(stage, raw, sep string, arity Arity, ev Evaluator) ([]string, error) {
	expanded, err := ExpandEager(raw, ev)
	if err != nil {
		return nil, Fail(stage, err)
	}
	return SplitFields(stage, expanded, sep, arity)
}

// Template is an argument field evaluated against individual elements.
// The element is bound to `cur`. Templates that still use the older {} or
// {0} placeholder get the element's hex value substituted textually.
type Template struct {
	text   string
	legacy bool
}

// NewTemplate wraps a field for per-element evaluation.
func NewTemplate(text string) Template {
	text = strings.TrimSpace(text)
	return Template{text: text, legacy: legacyPattern.MatchString(text)}
}

// Text returns the template source.
func (t Template) Text() string { return t.text }

// Legacy reports whether the template uses the {} placeholder.
func (t Template) Legacy() bool { return t.legacy }

// Render returns the expression text sent to the backend for cur.
func (t Template) Render(cur *Element) string {
	if !t.legacy {
		return t.text
	}
	hex := "0x0"
	if cur != nil {
		hex = cur.Hex()
	}
	return legacyPattern.ReplaceAllLiteralString(t.text, hex)
}

// Eval evaluates the template with cur bound.
func (t Template) Eval(ev Evaluator, cur *Element) (Element, error) {
	return ev.Evaluate(t.Render(cur), cur)
}

// Truth evaluates the template as a condition: any non-zero value is true.
func (t Template) Truth(ev Evaluator, cur *Element) (bool, error) {
	el, err := t.Eval(ev, cur)
	if err != nil {
		return false, err
	}
	return el.Value != 0, nil
}
