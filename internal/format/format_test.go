package format_test

import (
	"strings"
	"testing"

	"walkpipe/internal/format"
	"walkpipe/pkg/walker"
	"walkpipe/pkg/walker/stages"
)

func TestASCII_BasicTable(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Walker", "Tags")
	tb.Row("head", "general")
	out := tb.String()

	if !strings.Contains(out, "Walker") || !strings.Contains(out, "head") {
		t.Errorf("missing content in output:\n%s", out)
	}
	if !strings.Contains(out, "───") {
		t.Errorf("expected box-drawing characters in ASCII output:\n%s", out)
	}
}

func TestMarkdown_BasicTable(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Walker", "Tags")
	tb.Row("head", "general")
	tb.Footer("1 walkers", "")
	out := tb.String()

	if !strings.Contains(out, "| Walker") {
		t.Errorf("expected markdown header with '| Walker':\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("expected markdown separator '---':\n%s", out)
	}
	if !strings.Contains(out, "1 walkers") {
		t.Errorf("expected footer in output:\n%s", out)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]format.Mode{"": format.ASCII, "ascii": format.ASCII, "MD": format.Markdown, "markdown": format.Markdown} {
		got, err := format.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := format.ParseMode("html"); err == nil {
		t.Error("expected error for html")
	}
}

func TestWalkers(t *testing.T) {
	reg := stages.NewRegistry()
	out := format.Walkers(format.Markdown, reg.WithTag(stages.TagCode))
	for _, name := range []string{"instructions", "called-functions", "hypothetical-call-stack"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in listing:\n%s", name, out)
		}
	}
	if strings.Contains(out, "| head ") {
		t.Errorf("general walker listed under code tag:\n%s", out)
	}
	if !strings.Contains(out, "3 walkers") {
		t.Errorf("expected count footer:\n%s", out)
	}
}

func TestTags(t *testing.T) {
	out := format.Tags(format.ASCII, stages.NewRegistry())
	for _, tag := range []string{stages.TagGeneral, stages.TagData, stages.TagCode} {
		if !strings.Contains(out, tag) {
			t.Errorf("expected tag %s:\n%s", tag, out)
		}
	}
}

type plain struct{}

func (plain) SizeOf(string) (uint64, error) { return 8, nil }
func (plain) Evaluate(string, *walker.Element) (walker.Element, error) {
	return walker.Element{}, nil
}

func TestElements(t *testing.T) {
	out := format.Elements(format.Markdown, plain{}, []walker.Element{
		walker.NewElement("node_t *", 0x1000),
		walker.NewElement("long", 3),
	})
	if !strings.Contains(out, "(node_t *) 0x1000") || !strings.Contains(out, "0x3") {
		t.Errorf("unexpected rendering:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"walk the call graph", 10, "walk th..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range cases {
		if got := format.Truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
