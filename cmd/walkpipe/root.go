package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"walkpipe/internal/config"
	"walkpipe/internal/logging"
	"walkpipe/internal/wiring"
	"walkpipe/pkg/walker"
)

// version is set at build time via -ldflags.
var version = "dev"

// app carries state resolved once per invocation by the root command.
type app struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "walkpipe",
		Short: "Compose lazy walkers over program memory",
		Long: `walkpipe runs pipelines of walkers, such as
"linked-list head; next | if cur != 0 | count", against a snapshot of a
program's memory, symbols and disassembly.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configFile, "config", "", "config file (default ./walkpipe.yaml when present)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text or json")
	f.StringSlice("snapshot", nil, "snapshot YAML file(s) to load; repeatable")
	f.String("default-stage", "", "walker used for segments that do not name a registered walker")

	root.AddCommand(newPipeCmd(a), newWalkerCmd(a), newServeCmd(a), newVersionCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

var errNoSnapshot = errors.New("no snapshot files configured (use --snapshot or snapshot.files)")

// openSession loads the configured snapshots. Extra observers are combined
// with the log observer on every compiler the session hands out.
func (a *app) openSession(ctx context.Context, observers ...walker.Observer) (*wiring.Session, error) {
	if len(a.cfg.Snapshot.Files) == 0 {
		return nil, errNoSnapshot
	}
	obs := walker.MultiObserver{&walker.LogObserver{Logger: logging.New("pipeline")}}
	obs = append(obs, observers...)
	opts := []walker.CompilerOption{
		walker.WithObserver(obs),
		walker.WithLogger(logging.New("compiler")),
	}
	if a.cfg.Pipeline.DefaultStage != "" {
		opts = append(opts, walker.WithDefaultStage(a.cfg.Pipeline.DefaultStage))
	}
	sess, err := wiring.Open(ctx, a.cfg.Snapshot.Files, opts...)
	if err != nil {
		return nil, err
	}
	logging.New("cli").Debug("snapshot loaded", "files", a.cfg.Snapshot.Files, "symbols", len(sess.Snapshot.Symbols()))
	return sess, nil
}
