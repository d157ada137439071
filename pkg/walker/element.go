// Package walker is the core of the walkpipe query pipeline. It defines the
// typed Element passed between stages, the backend capabilities the core
// consumes, the Stage protocol, the stage Registry, the argument
// micro-parser and the pipeline compiler that links stages into one lazy
// sequence.
package walker

import (
	"fmt"
	"strings"
)

// Element is a typed address or scalar flowing through a pipeline.
// It is a plain value; copying it never shares backend state.
type Element struct {
	Type  string
	Value uint64
}

// NewElement returns an Element of the given type and value.
func NewElement(typ string, value uint64) Element {
	return Element{Type: strings.TrimSpace(typ), Value: value}
}

// Address returns the element's value as an address.
func (e Element) Address() uint64 { return e.Value }

// Cast returns a copy of the element carrying a different type name.
func (e Element) Cast(typ string) Element {
	return NewElement(typ, e.Value)
}

// IsNull reports whether the element holds the null address.
func (e Element) IsNull() bool { return e.Value == 0 }

// Hex returns the value in the 0x-prefixed form used for text substitution.
func (e Element) Hex() string { return fmt.Sprintf("%#x", e.Value) }

func (e Element) String() string {
	if e.Type == "" {
		return e.Hex()
	}
	return fmt.Sprintf("(%s) %s", e.Type, e.Hex())
}

// Step returns the element n strides away. The stride is resolved through
// the sizer: for a pointer type "U *" it is sizeof(U), for any other type T
// it is sizeof(T). A type the sizer cannot resolve is a TypeResolutionError.
func (e Element) Step(n int64, sizer Sizer) (Element, error) {
	stride, err := Stride(sizer, e.Type)
	if err != nil {
		return Element{}, err
	}
	return e.StepBy(n, stride), nil
}

// StepBy moves the element by n explicit strides of the given byte size.
func (e Element) StepBy(n int64, stride uint64) Element {
	return Element{Type: e.Type, Value: e.Value + uint64(n)*stride}
}

// IsPointer reports whether typ names a pointer type.
func IsPointer(typ string) bool {
	return strings.HasSuffix(strings.TrimSpace(typ), "*")
}

// Pointee strips one level of indirection from a pointer type name.
// Non-pointer names are returned unchanged.
func Pointee(typ string) string {
	t := strings.TrimSpace(typ)
	if !strings.HasSuffix(t, "*") {
		return t
	}
	return strings.TrimSpace(strings.TrimSuffix(t, "*"))
}

// PointerTo adds one level of indirection to a type name.
func PointerTo(typ string) string {
	t := strings.TrimSpace(typ)
	if strings.HasSuffix(t, "*") {
		return t + "*"
	}
	return t + " *"
}

// Stride resolves the byte distance between consecutive elements of typ.
func Stride(sizer Sizer, typ string) (uint64, error) {
	target := strings.TrimSpace(typ)
	if IsPointer(target) {
		target = Pointee(target)
	}
	if target == "" {
		return 0, &TypeResolutionError{Type: typ}
	}
	size, err := sizer.SizeOf(target)
	if err != nil {
		return 0, &TypeResolutionError{Type: target, Err: err}
	}
	if size == 0 {
		return 0, &TypeResolutionError{Type: target, Err: fmt.Errorf("zero-sized type")}
	}
	return size, nil
}
