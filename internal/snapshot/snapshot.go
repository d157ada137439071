package snapshot

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"walkpipe/pkg/walker"
)

var (
	_ walker.Backend      = (*Snapshot)(nil)
	_ walker.MemberLoader = (*Snapshot)(nil)
	_ walker.Disassembler = (*Snapshot)(nil)
	_ walker.Formatter    = (*Snapshot)(nil)
)

var builtinSizes = map[string]uint64{
	"char":               1,
	"signed char":        1,
	"unsigned char":      1,
	"bool":               1,
	"short":              2,
	"unsigned short":     2,
	"int":                4,
	"unsigned":           4,
	"unsigned int":       4,
	"long long":          8,
	"unsigned long long": 8,
	"int8_t":             1,
	"uint8_t":            1,
	"int16_t":            2,
	"uint16_t":           2,
	"int32_t":            4,
	"uint32_t":           4,
	"int64_t":            8,
	"uint64_t":           8,
}

// Types whose width follows the pointer size.
var wordTypes = map[string]bool{
	"long": true, "unsigned long": true, "size_t": true, "ssize_t": true,
	"uintptr_t": true, "intptr_t": true, "ptrdiff_t": true,
}

var signedTypes = map[string]bool{
	"char": true, "signed char": true, "short": true, "int": true, "long": true,
	"long long": true, "ssize_t": true, "intptr_t": true, "ptrdiff_t": true,
	"int8_t": true, "int16_t": true, "int32_t": true, "int64_t": true,
}

var arrayType = regexp.MustCompile(`^(.+?)\s*\[(\d+)\]$`)

type routine struct {
	walker.Routine
	insns []walker.Instruction
}

// Snapshot is an immutable memory image. It is safe for concurrent use.
type Snapshot struct {
	pointerSize uint64
	types       map[string]TypeDef
	symbols     map[string]Symbol
	mem         map[uint64]byte
	routines    []routine // sorted by Start

	mu    sync.Mutex
	cache map[string]*compiled
	env   map[string]any
	opts  []exprOption
}

// New builds a Snapshot from one or more parsed documents.
func New(docs ...*File) (*Snapshot, error) {
	f, err := merge(docs...)
	if err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	s := &Snapshot{
		pointerSize: f.PointerSize,
		types:       make(map[string]TypeDef, len(f.Types)),
		symbols:     make(map[string]Symbol, len(f.Symbols)),
		mem:         map[uint64]byte{},
		cache:       map[string]*compiled{},
	}
	for _, t := range f.Types {
		s.types[normalize(t.Name)] = t
	}
	for _, sym := range f.Symbols {
		s.symbols[sym.Name] = sym
	}
	for _, m := range f.Memory {
		for i, w := range m.Words {
			s.storeWord(m.Address+uint64(i)*s.pointerSize, w)
		}
	}
	for _, r := range f.Routines {
		rt := routine{Routine: walker.Routine{Name: r.Name, Start: r.Start, End: r.End, File: r.File}}
		for _, in := range r.Instructions {
			rt.insns = append(rt.insns, walker.Instruction{Address: in.Address, Text: in.Text})
		}
		sort.Slice(rt.insns, func(i, j int) bool { return rt.insns[i].Address < rt.insns[j].Address })
		s.routines = append(s.routines, rt)
		// Routines double as function symbols unless the document says otherwise.
		if _, ok := s.symbols[r.Name]; !ok && identRe.MatchString(r.Name) && !reserved[r.Name] {
			s.symbols[r.Name] = Symbol{Name: r.Name, Value: r.Start, Type: "void (*)(void)"}
		}
	}
	sort.Slice(s.routines, func(i, j int) bool { return s.routines[i].Start < s.routines[j].Start })
	for i := 1; i < len(s.routines); i++ {
		if prev := s.routines[i-1]; prev.End > s.routines[i].Start {
			return nil, fmt.Errorf("routines %s and %s overlap", prev.Name, s.routines[i].Name)
		}
	}
	s.env, s.opts = s.exprOptions()
	return s, nil
}

// PointerSize reports the width of pointers in bytes.
func (s *Snapshot) PointerSize() uint64 { return s.pointerSize }

// Symbols returns the symbol table sorted by name.
func (s *Snapshot) Symbols() []Symbol {
	out := make([]Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Snapshot) storeWord(addr, w uint64) {
	for i := uint64(0); i < s.pointerSize; i++ {
		s.mem[addr+i] = byte(w >> (8 * i))
	}
}

// ReadUint reads size little-endian bytes at addr.
func (s *Snapshot) ReadUint(addr, size uint64) (uint64, error) {
	if size == 0 || size > 8 {
		return 0, fmt.Errorf("cannot read %d bytes as a scalar", size)
	}
	var v uint64
	for i := uint64(0); i < size; i++ {
		b, ok := s.mem[addr+i]
		if !ok {
			return 0, fmt.Errorf("cannot access memory at address %#x", addr+i)
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

// readTyped reads a scalar or pointer of type typ, sign-extending signed types.
func (s *Snapshot) readTyped(addr uint64, typ string) (uint64, error) {
	size, err := s.SizeOf(typ)
	if err != nil {
		return 0, err
	}
	v, err := s.ReadUint(addr, size)
	if err != nil {
		return 0, err
	}
	if signedTypes[normalize(typ)] && size < 8 {
		shift := 64 - 8*size
		v = uint64(int64(v<<shift) >> shift)
	}
	return v, nil
}

// normalize collapses whitespace and writes pointer suffixes as "T **".
func normalize(typ string) string {
	typ = strings.Join(strings.Fields(typ), " ")
	i := strings.IndexByte(typ, '*')
	if i < 0 || strings.Contains(typ, "(") {
		return typ
	}
	return strings.TrimSpace(typ[:i]) + " " + strings.ReplaceAll(typ[i:], " ", "")
}

// lookupType finds a struct definition, accepting a "struct " or "union "
// prefix the document omitted.
func (s *Snapshot) lookupType(typ string) (TypeDef, bool) {
	typ = normalize(typ)
	if t, ok := s.types[typ]; ok {
		return t, true
	}
	for _, p := range []string{"struct ", "union "} {
		if rest, ok := strings.CutPrefix(typ, p); ok {
			if t, ok := s.types[rest]; ok {
				return t, true
			}
		}
	}
	return TypeDef{}, false
}

// SizeOf implements walker.Sizer. void has size zero.
func (s *Snapshot) SizeOf(typ string) (uint64, error) {
	typ = normalize(typ)
	switch {
	case typ == "":
		return 0, fmt.Errorf("empty type name")
	case typ == "void":
		return 0, nil
	case strings.HasSuffix(typ, "*") || strings.Contains(typ, "(*)"):
		return s.pointerSize, nil
	case wordTypes[typ]:
		return s.pointerSize, nil
	}
	if size, ok := builtinSizes[typ]; ok {
		return size, nil
	}
	if m := arrayType.FindStringSubmatch(typ); m != nil {
		elem, err := s.SizeOf(m[1])
		if err != nil {
			return 0, err
		}
		n, _ := strconv.ParseUint(m[2], 10, 64)
		return elem * n, nil
	}
	if t, ok := s.lookupType(typ); ok {
		return t.Size, nil
	}
	return 0, fmt.Errorf("no type named %q", typ)
}

func (s *Snapshot) field(typ, name string) (Field, error) {
	t, ok := s.lookupType(typ)
	if !ok {
		return Field{}, fmt.Errorf("no struct named %q", typ)
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("there is no member named %s in %s", name, t.Name)
}

// LoadMember implements walker.MemberLoader. member may be written as
// "next" or "->next".
func (s *Snapshot) LoadMember(el walker.Element, member string) (walker.Element, error) {
	member = strings.TrimPrefix(strings.TrimSpace(member), "->")
	if !walker.IsPointer(el.Type) {
		return walker.Element{}, fmt.Errorf("cannot take member %s of non-pointer type %q", member, el.Type)
	}
	f, err := s.field(walker.Pointee(el.Type), member)
	if err != nil {
		return walker.Element{}, err
	}
	v, err := s.readTyped(el.Value+f.Offset, f.Type)
	if err != nil {
		return walker.Element{}, err
	}
	return walker.NewElement(f.Type, v), nil
}

func (s *Snapshot) routineAt(addr uint64) (routine, bool) {
	i := sort.Search(len(s.routines), func(i int) bool { return s.routines[i].End > addr })
	if i < len(s.routines) && s.routines[i].Start <= addr {
		return s.routines[i], true
	}
	return routine{}, false
}

// RoutineOf implements walker.Disassembler.
func (s *Snapshot) RoutineOf(addr uint64) (walker.Routine, bool, error) {
	r, ok := s.routineAt(addr)
	return r.Routine, ok, nil
}

// Instructions implements walker.Disassembler. Gaps between routines
// contribute nothing.
func (s *Snapshot) Instructions(start, end uint64) ([]walker.Instruction, error) {
	var out []walker.Instruction
	i := sort.Search(len(s.routines), func(i int) bool { return s.routines[i].End > start })
	for ; i < len(s.routines) && s.routines[i].Start < end; i++ {
		for _, in := range s.routines[i].insns {
			if in.Address >= start && in.Address < end {
				out = append(out, in)
			}
		}
	}
	return out, nil
}

// Format implements walker.Formatter in the style of a debugger print:
// the typed value, the routine or symbol it points into, and the fields of
// a readable struct pointee.
func (s *Snapshot) Format(el walker.Element) string {
	var b strings.Builder
	b.WriteString(el.String())
	if r, ok := s.routineAt(el.Value); ok {
		if off := el.Value - r.Start; off > 0 {
			fmt.Fprintf(&b, " <%s+%d>", r.Name, off)
		} else {
			fmt.Fprintf(&b, " <%s>", r.Name)
		}
	} else if name, ok := s.symbolAt(el.Value); ok {
		fmt.Fprintf(&b, " <%s>", name)
	}
	if el.IsNull() || !walker.IsPointer(el.Type) {
		return b.String()
	}
	t, ok := s.lookupType(walker.Pointee(el.Type))
	if !ok || len(t.Fields) == 0 {
		return b.String()
	}
	parts := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		v, err := s.readTyped(el.Value+f.Offset, f.Type)
		if err != nil {
			return b.String()
		}
		parts = append(parts, fmt.Sprintf("%s = %#x", f.Name, v))
	}
	fmt.Fprintf(&b, " {%s}", strings.Join(parts, ", "))
	return b.String()
}

func (s *Snapshot) symbolAt(addr uint64) (string, bool) {
	if addr == 0 {
		return "", false
	}
	var names []string
	for _, sym := range s.symbols {
		if sym.Value == addr {
			names = append(names, sym.Name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}
