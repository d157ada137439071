package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"walkpipe/internal/format"
	"walkpipe/pkg/walker"
	"walkpipe/pkg/walker/stages"
)

var walkerFlags struct {
	format string
	tag    string
}

func newWalkerCmd(_ *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walker",
		Short: "Inspect the registered walkers",
	}
	cmd.PersistentFlags().StringVar(&walkerFlags.format, "format", "ascii", "table format: ascii or markdown")

	list := &cobra.Command{
		Use:   "list",
		Short: "List walkers, optionally only those with --tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := stages.NewRegistry()
			descs := reg.List()
			if walkerFlags.tag != "" {
				descs = reg.WithTag(walkerFlags.tag)
				if len(descs) == 0 {
					return fmt.Errorf("no walkers tagged %q (tags: %s)", walkerFlags.tag, strings.Join(reg.Tags(), ", "))
				}
			}
			return printTable(cmd, func(m format.Mode) string { return format.Walkers(m, descs) })
		},
	}
	list.Flags().StringVar(&walkerFlags.tag, "tag", "", "only walkers carrying this tag")

	tags := &cobra.Command{
		Use:   "tags",
		Short: "List walker tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := stages.NewRegistry()
			return printTable(cmd, func(m format.Mode) string { return format.Tags(m, reg) })
		},
	}

	apropos := &cobra.Command{
		Use:   "apropos REGEX",
		Short: "Search walker names, tags and documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := stages.NewRegistry().Apropos(args[0])
			if err != nil {
				return err
			}
			if len(descs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No walkers match %q.\n", args[0])
				return nil
			}
			return printTable(cmd, func(m format.Mode) string { return format.Walkers(m, descs) })
		},
	}

	help := &cobra.Command{
		Use:   "help {NAME | walkers | tags | tag TAG}",
		Short: "Show the documentation of a walker, or list walkers and tags",
		Args:  cobra.RangeArgs(1, 2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			reg := stages.NewRegistry()
			switch {
			case len(args) == 0:
				words := []string{}
				for _, w := range []string{"walkers", "tags", "tag"} {
					if strings.HasPrefix(w, toComplete) {
						words = append(words, w)
					}
				}
				return append(words, reg.Complete(toComplete)...), cobra.ShellCompDirectiveNoFileComp
			case len(args) == 1 && args[0] == "tag":
				var tags []string
				for _, t := range reg.Tags() {
					if strings.HasPrefix(t, toComplete) {
						tags = append(tags, t)
					}
				}
				return tags, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: runWalkerHelp,
	}

	cmd.AddCommand(list, tags, apropos, help)
	return cmd
}

func runWalkerHelp(cmd *cobra.Command, args []string) error {
	reg := stages.NewRegistry()
	switch args[0] {
	case "walkers":
		if len(args) > 1 {
			return fmt.Errorf("help walkers takes no argument")
		}
		return printTable(cmd, func(m format.Mode) string { return format.Walkers(m, reg.List()) })
	case "tags":
		if len(args) > 1 {
			return fmt.Errorf("help tags takes no argument")
		}
		return printTable(cmd, func(m format.Mode) string { return format.Tags(m, reg) })
	case "tag":
		if len(args) != 2 {
			return fmt.Errorf("help tag needs a tag name (tags: %s)", strings.Join(reg.Tags(), ", "))
		}
		descs := reg.WithTag(args[1])
		if len(descs) == 0 {
			return fmt.Errorf("no walkers tagged %q (tags: %s)", args[1], strings.Join(reg.Tags(), ", "))
		}
		return printTable(cmd, func(m format.Mode) string { return format.Walkers(m, descs) })
	}
	if len(args) > 1 {
		return fmt.Errorf("help %s takes no argument", args[0])
	}
	d, ok := reg.Lookup(args[0])
	if !ok {
		return &walker.UnknownStageError{Name: args[0], Suggestions: reg.Suggest(args[0])}
	}
	printDescriptor(cmd, d)
	return nil
}

func printTable(cmd *cobra.Command, render func(format.Mode) string) error {
	m, err := format.ParseMode(walkerFlags.format)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), render(m))
	return nil
}

func printDescriptor(cmd *cobra.Command, d walker.Descriptor) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s", d.Name)
	if len(d.Tags) > 0 {
		fmt.Fprintf(out, " [%s]", strings.Join(d.Tags, ", "))
	}
	fmt.Fprintln(out)
	switch {
	case d.RequiresInput && d.RequiresFollower:
		fmt.Fprintln(out, "Must have input and be followed by another walker.")
	case d.RequiresInput:
		fmt.Fprintln(out, "Cannot start a pipeline.")
	case d.RequiresFollower:
		fmt.Fprintln(out, "Cannot end a pipeline.")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.TrimSpace(d.Doc))
}
