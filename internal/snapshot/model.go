// Package snapshot implements a walker backend over a static memory image
// described in YAML: type layouts, symbols, memory words and disassembled
// routines.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// File is the on-disk snapshot document.
type File struct {
	PointerSize uint64       `yaml:"pointer_size,omitempty"`
	Types       []TypeDef    `yaml:"types,omitempty"`
	Symbols     []Symbol     `yaml:"symbols,omitempty"`
	Memory      []MemoryWord `yaml:"memory,omitempty"`
	Routines    []RoutineDef `yaml:"routines,omitempty"`
}

// TypeDef describes a struct layout. Fields may be empty for opaque types.
type TypeDef struct {
	Name   string  `yaml:"name"`
	Size   uint64  `yaml:"size"`
	Fields []Field `yaml:"fields,omitempty"`
}

// Field is one member of a TypeDef.
type Field struct {
	Name   string `yaml:"name"`
	Offset uint64 `yaml:"offset"`
	Type   string `yaml:"type"`
}

// Symbol binds a global name to a typed value.
type Symbol struct {
	Name  string `yaml:"name"`
	Value uint64 `yaml:"value"`
	Type  string `yaml:"type"`
}

// MemoryWord is a run of consecutive pointer-sized words at Address.
type MemoryWord struct {
	Address uint64   `yaml:"address"`
	Words   []uint64 `yaml:"words"`
}

// RoutineDef is a function with its disassembly.
type RoutineDef struct {
	Name         string           `yaml:"name"`
	Start        uint64           `yaml:"start"`
	End          uint64           `yaml:"end"`
	File         string           `yaml:"file,omitempty"`
	Instructions []InstructionDef `yaml:"instructions,omitempty"`
}

// InstructionDef is one line of disassembly.
type InstructionDef struct {
	Address uint64 `yaml:"address"`
	Text    string `yaml:"text"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse decodes a snapshot document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse snapshot YAML: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses a single snapshot file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadFiles parses every path concurrently and merges the documents in
// argument order into one Snapshot.
func LoadFiles(ctx context.Context, paths ...string) (*Snapshot, error) {
	if len(paths) == 0 {
		return nil, errors.New("no snapshot files given")
	}
	files := make([]*File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := LoadFile(p)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(files...)
}

// merge folds docs into one File. Pointer sizes must agree; duplicate type
// and symbol names are rejected.
func merge(docs ...*File) (*File, error) {
	out := &File{}
	types := map[string]bool{}
	syms := map[string]bool{}
	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.PointerSize != 0 {
			if out.PointerSize != 0 && out.PointerSize != d.PointerSize {
				return nil, fmt.Errorf("conflicting pointer sizes %d and %d", out.PointerSize, d.PointerSize)
			}
			out.PointerSize = d.PointerSize
		}
		for _, t := range d.Types {
			if types[t.Name] {
				return nil, fmt.Errorf("type %q defined twice", t.Name)
			}
			types[t.Name] = true
			out.Types = append(out.Types, t)
		}
		for _, s := range d.Symbols {
			if syms[s.Name] {
				return nil, fmt.Errorf("symbol %q defined twice", s.Name)
			}
			syms[s.Name] = true
			out.Symbols = append(out.Symbols, s)
		}
		out.Memory = append(out.Memory, d.Memory...)
		out.Routines = append(out.Routines, d.Routines...)
	}
	if out.PointerSize == 0 {
		out.PointerSize = 8
	}
	return out, nil
}

func (f *File) validate() error {
	var errs []error
	switch f.PointerSize {
	case 1, 2, 4, 8:
	default:
		errs = append(errs, fmt.Errorf("pointer_size %d not one of 1, 2, 4, 8", f.PointerSize))
	}
	for _, t := range f.Types {
		if t.Name == "" {
			errs = append(errs, errors.New("type with empty name"))
		}
		for _, fl := range t.Fields {
			if fl.Type == "" {
				errs = append(errs, fmt.Errorf("type %s: field %q has no type", t.Name, fl.Name))
			}
		}
	}
	for _, s := range f.Symbols {
		if !identRe.MatchString(s.Name) {
			errs = append(errs, fmt.Errorf("symbol %q is not an identifier", s.Name))
		}
		if reserved[s.Name] {
			errs = append(errs, fmt.Errorf("symbol %q shadows a built-in name", s.Name))
		}
	}
	for _, r := range f.Routines {
		if r.End <= r.Start {
			errs = append(errs, fmt.Errorf("routine %s: end %#x not after start %#x", r.Name, r.End, r.Start))
		}
		for _, in := range r.Instructions {
			if in.Address < r.Start || in.Address >= r.End {
				errs = append(errs, fmt.Errorf("routine %s: instruction at %#x outside the routine", r.Name, in.Address))
			}
		}
	}
	return errors.Join(errs...)
}
