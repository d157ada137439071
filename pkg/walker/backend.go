package walker

// Sizer answers type size queries.
type Sizer interface {
	SizeOf(typ string) (uint64, error)
}

// Evaluator resolves textual expressions into Elements. When cur is non-nil
// the backend binds the identifier `cur` to it for this one evaluation;
// nothing about the binding survives the call.
type Evaluator interface {
	Sizer
	Evaluate(text string, cur *Element) (Element, error)
}

// MemberLoader loads a named member of the structure an element points to.
// It backs the `linked-list` and `nested-list` stages.
type MemberLoader interface {
	LoadMember(el Element, member string) (Element, error)
}

// Routine describes the function containing an address.
type Routine struct {
	Name  string
	Start uint64
	End   uint64 // exclusive
	File  string
}

// Instruction is one disassembled instruction.
type Instruction struct {
	Address uint64
	Text    string
}

// Disassembler is the symbol and disassembly capability used by the
// call-graph walker and the `instructions` stage.
type Disassembler interface {
	// RoutineOf returns the routine containing addr. ok is false when the
	// backend knows no routine there.
	RoutineOf(addr uint64) (r Routine, ok bool, err error)
	// Instructions returns the instructions in [start, end).
	Instructions(start, end uint64) ([]Instruction, error)
}

// CallTargeter decodes the target of a direct call instruction. Backends
// implement it when their instruction text differs from gdb's
// "call 0xADDR <name>" form.
type CallTargeter interface {
	CallTarget(insn Instruction) (target uint64, ok bool)
}

// Formatter renders an element for display.
type Formatter interface {
	Format(el Element) string
}

// Backend is the full set of capabilities a pipeline may draw on. Only
// the Evaluator is mandatory; stages type-assert for the rest.
type Backend interface {
	Evaluator
}

// FormatElement renders el with the backend's formatter when it has one.
func FormatElement(b Backend, el Element) string {
	if f, ok := b.(Formatter); ok {
		return f.Format(el)
	}
	return el.String()
}
