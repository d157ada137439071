package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"walkpipe/internal/format"
	"walkpipe/pkg/walker"
)

type pipeFlags struct {
	format string
	limit  int
}

func newPipeCmd(a *app) *cobra.Command {
	var flags pipeFlags
	cmd := &cobra.Command{
		Use:   "pipe PIPELINE...",
		Short: "Compile and run a walker pipeline",
		Long: `Compile and run a walker pipeline against the configured snapshot.
Arguments are joined with spaces, so the pipeline may be quoted as one
argument or split across several. Elements that reach the end of the
pipeline are printed one per line unless --format selects a table.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipe(cmd, strings.Join(args, " "), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.format, "format", "plain", "output format: plain, ascii or markdown")
	f.IntVar(&flags.limit, "limit", 0, "stop after this many elements (0 = no limit)")
	return cmd
}

func (a *app) runPipe(cmd *cobra.Command, text string, flags pipeFlags) error {
	var mode format.Mode
	plain := flags.format == "plain"
	if !plain {
		var err error
		if mode, err = format.ParseMode(flags.format); err != nil {
			return err
		}
	}

	sess, err := a.openSession(cmd.Context())
	if err != nil {
		return err
	}
	snap := sess.Snapshot
	out := cmd.OutOrStdout()
	seq, err := sess.Compiler(out).Run(text)
	if err != nil {
		return err
	}

	var els []walker.Element
	n := 0
	for el, err := range seq {
		if err != nil {
			return err
		}
		n++
		if plain {
			fmt.Fprintln(out, walker.FormatElement(snap, el))
		} else {
			els = append(els, el)
		}
		if n == flags.limit {
			break
		}
	}
	if !plain {
		fmt.Fprintln(out, format.Elements(mode, snap, els))
	}
	return nil
}
