package format

import (
	"fmt"
	"strings"

	"walkpipe/pkg/walker"
)

// Walkers renders one row per descriptor: name, tags and the first line
// of its documentation.
func Walkers(m Mode, descs []walker.Descriptor) string {
	tb := NewTable(m)
	tb.Header("Walker", "Tags", "Summary")
	tb.Columns(ColumnConfig{Number: 3, MaxWidth: 60})
	for _, d := range descs {
		tb.Row(d.Name, strings.Join(d.Tags, ", "), Truncate(d.Summary(), 80))
	}
	tb.Footer(fmt.Sprintf("%d walkers", len(descs)), "", "")
	return tb.String()
}

// Tags renders each tag with the number of walkers carrying it.
func Tags(m Mode, reg *walker.Registry) string {
	tb := NewTable(m)
	tb.Header("Tag", "Walkers")
	tb.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	for _, tag := range reg.Tags() {
		tb.Row(tag, len(reg.WithTag(tag)))
	}
	return tb.String()
}

// Elements renders pipeline output with the backend's formatter.
func Elements(m Mode, b walker.Backend, els []walker.Element) string {
	tb := NewTable(m)
	tb.Header("#", "Type", "Value", "Display")
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight}, ColumnConfig{Number: 3, Align: AlignRight})
	for i, el := range els {
		tb.Row(i, el.Type, el.Hex(), walker.FormatElement(b, el))
	}
	return tb.String()
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
