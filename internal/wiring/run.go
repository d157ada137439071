// Package wiring assembles the walker registry, a snapshot backend and the
// compiler into one session.
package wiring

import (
	"bytes"
	"context"
	"io"

	"walkpipe/internal/snapshot"
	"walkpipe/pkg/walker"
	"walkpipe/pkg/walker/stages"
)

// Session is a loaded snapshot plus the stage registry. It is safe for
// concurrent use; each compiler it hands out has its own Env.
type Session struct {
	Snapshot *snapshot.Snapshot
	Registry *walker.Registry
	opts     []walker.CompilerOption
}

// Open loads the snapshot files and registers the stage library.
func Open(ctx context.Context, files []string, opts ...walker.CompilerOption) (*Session, error) {
	snap, err := snapshot.LoadFiles(ctx, files...)
	if err != nil {
		return nil, err
	}
	return NewSession(snap, opts...), nil
}

// NewSession wraps an already loaded snapshot.
func NewSession(snap *snapshot.Snapshot, opts ...walker.CompilerOption) *Session {
	return &Session{Snapshot: snap, Registry: stages.NewRegistry(), opts: opts}
}

// Compiler returns a compiler whose `show` output goes to out.
func (s *Session) Compiler(out io.Writer) *walker.Compiler {
	return walker.NewCompiler(s.Registry, walker.NewEnv(s.Snapshot, out), s.opts...)
}

// Run executes text to completion and returns its elements together with
// anything the pipeline printed.
func (s *Session) Run(text string) ([]walker.Element, string, error) {
	var out bytes.Buffer
	seq, err := s.Compiler(&out).Run(text)
	if err != nil {
		return nil, "", err
	}
	els, err := walker.Collect(seq)
	return els, out.String(), err
}

// Options returns the compiler options the session was opened with.
func (s *Session) Options() []walker.CompilerOption {
	return s.opts
}
