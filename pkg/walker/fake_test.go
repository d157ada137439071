package walker

import (
	"fmt"
	"strconv"
	"strings"
)

// fakeBackend evaluates integer literals, `cur`, and any expression
// registered in exprs. Every evaluated text is recorded in calls.
type fakeBackend struct {
	sizes map[string]uint64
	exprs map[string]func(cur *Element) (Element, error)
	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sizes: map[string]uint64{"char": 1, "int": 4, "long": 8, "node_t": 16},
		exprs: map[string]func(cur *Element) (Element, error){},
	}
}

func (f *fakeBackend) SizeOf(typ string) (uint64, error) {
	if size, ok := f.sizes[typ]; ok {
		return size, nil
	}
	return 0, fmt.Errorf("no type named %q", typ)
}

func (f *fakeBackend) Evaluate(text string, cur *Element) (Element, error) {
	text = strings.TrimSpace(text)
	f.calls = append(f.calls, text)
	if fn, ok := f.exprs[text]; ok {
		return fn(cur)
	}
	if text == CurrentIdent && cur != nil {
		return *cur, nil
	}
	if v, err := strconv.ParseInt(text, 0, 64); err == nil {
		return NewElement("long", uint64(v)), nil
	}
	return Element{}, fmt.Errorf("cannot evaluate %q", text)
}

func values(els []Element) []uint64 {
	out := make([]uint64, len(els))
	for i, el := range els {
		out[i] = el.Value
	}
	return out
}
