package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dannyswat/vcgraph"
	"github.com/dannyswat/vcgraph/graph"
	"github.com/dannyswat/vcgraph/internal/config"
	"github.com/dannyswat/vcgraph/internal/logging"
	"github.com/dannyswat/vcgraph/store"
)

// backend is a store holding both objects and commits.
type backend interface {
	store.ObjectStore
	store.CommitStore
}

// app is the state shared by the commands of one invocation.
type app struct {
	cfgFile string
	output  string

	cfg     *config.Config
	backend backend
	core    *graph.Core
	merger  *vcgraph.Merger
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "vcgraph",
		Short: "Version control for node trees",
		Long: `vcgraph stores hierarchical node trees as commits and diffs, merges and
patches them. HTML documents can be imported as trees and exported back.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./"+config.DefaultFile+")")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", formatJSON, "output format: json or yaml")

	root.AddCommand(
		newImportCmd(a),
		newExportCmd(a),
		newDiffCmd(a),
		newApplyCmd(a),
		newMergeCmd(a),
		newResolveCmd(a),
		newBranchesCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if a.output != formatJSON && a.output != formatYAML {
		return fmt.Errorf("unknown output format %q", a.output)
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.GetLogger("cli")

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		a.backend = s
	default:
		a.backend = store.NewMemoryStore()
	}

	var objects store.ObjectStore = a.backend
	if cfg.Store.CacheSize > 0 {
		cached, err := store.NewCachedStore(a.backend, cfg.Store.CacheSize)
		if err != nil {
			return err
		}
		objects = cached
	}
	if a.core, err = graph.NewCore(objects, graph.WithLogger(log.Logger)); err != nil {
		return err
	}
	a.merger, err = vcgraph.NewMerger(a.core, a.backend, vcgraph.Options{
		Logger:             log.Logger,
		MaxConcurrentLoads: cfg.Diff.MaxConcurrentLoads,
	})
	return err
}

func (a *app) close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// commitOf returns the commit hash a branch name or commit hash refers to.
func (a *app) commitOf(ctx context.Context, ref string) (string, error) {
	if store.IsCommitHash(ref) {
		return ref, nil
	}
	return a.backend.GetBranchHash(ctx, ref)
}

// branchHead is like GetBranchHash but a missing branch yields "".
func (a *app) branchHead(ctx context.Context, branch string) (string, error) {
	hash, err := a.backend.GetBranchHash(ctx, branch)
	if errors.Is(err, store.ErrBranchNotFound) {
		return "", nil
	}
	return hash, err
}
