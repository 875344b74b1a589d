package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dannyswat/vcgraph"
	"github.com/dannyswat/vcgraph/htmlgraph"
	"github.com/dannyswat/vcgraph/internal/logging"
	"github.com/dannyswat/vcgraph/store"
)

func newImportCmd(a *app) *cobra.Command {
	var branch, message string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Commit an HTML document as a node tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if branch == "" {
				branch = a.cfg.Branch.Default
			}
			if message == "" {
				message = "import " + args[0]
			}

			root, err := htmlgraph.Import(a.core, string(content))
			if err != nil {
				return err
			}
			rootHash, objects, err := a.core.Persist(ctx, root)
			if err != nil {
				return err
			}
			old, err := a.branchHead(ctx, branch)
			if err != nil {
				return err
			}
			var parents []string
			if old != "" {
				parents = []string{old}
			}
			commit, err := a.backend.MakeCommit(ctx, parents, rootHash, objects, message)
			if err != nil {
				return err
			}

			result := vcgraph.CommitResult{Hash: commit.Hash, RootHash: rootHash, BranchName: branch}
			status, err := a.backend.SetBranchHash(ctx, branch, commit.Hash, old)
			if err != nil {
				return err
			}
			if status == store.Forked {
				result.Forked = true
			} else {
				result.UpdatedBranch = branch
			}
			a.logger.Info().Str("commit", commit.Hash).Int("objects", len(objects)).Msg("Imported document")
			return render(cmd.OutOrStdout(), a.output, result)
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to commit to (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <ref>",
		Short: "Render the tree of a branch or commit as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hash, err := a.commitOf(ctx, args[0])
			if err != nil {
				return err
			}
			commit, err := a.backend.LoadCommit(ctx, hash)
			if err != nil {
				return err
			}
			root, err := a.core.LoadRoot(ctx, commit.RootHash)
			if err != nil {
				return err
			}
			content, err := htmlgraph.Export(ctx, a.core, root)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <refA> <refB>",
		Short: "Show the changes from one branch or commit to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := logging.LogOperationStart(a.logger, "diff")
			defer done()
			diff, err := a.merger.Diff(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, diff)
		},
	}
}

func newApplyCmd(a *app) *cobra.Command {
	var req vcgraph.ApplyRequest
	cmd := &cobra.Command{
		Use:   "apply <ref> <patch.json>",
		Short: "Apply a diff onto a branch or commit and commit the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Ref = args[0]
			req.Patch = &vcgraph.DiffNode{}
			if err := readJSON(args[1], req.Patch); err != nil {
				return err
			}
			result, err := a.merger.Apply(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, path := range result.Skipped {
				a.logger.Warn().Str("path", path).Msg("Patch entry skipped")
			}
			return render(cmd.OutOrStdout(), a.output, result)
		},
	}
	cmd.Flags().StringVarP(&req.BranchName, "branch", "b", "", "branch to update (default is ref when it is a branch)")
	cmd.Flags().BoolVar(&req.NoUpdate, "no-update", false, "commit without moving any branch")
	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "commit message")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var req vcgraph.MergeRequest
	var conflicts string
	cmd := &cobra.Command{
		Use:   "merge <mine> <theirs>",
		Short: "Merge mine into theirs",
		Long: `Merge combines the changes of mine and theirs since their common ancestor.
Unless --branch names another one, theirs is moved to the merge commit when it
is a branch. A conflicted merge is written to --conflicts; pick a side on each
item and pass the file to "vcgraph resolve".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Mine, req.Theirs = args[0], args[1]
			result, err := a.merger.Merge(cmd.Context(), req)
			if err != nil {
				return err
			}
			if result.State == vcgraph.StateConflicted && conflicts != "" {
				if err := writeJSON(conflicts, result); err != nil {
					return err
				}
				a.logger.Info().Str("file", conflicts).Int("items", len(result.Conflict.Items)).Msg("Conflicts written")
			}
			return render(cmd.OutOrStdout(), a.output, result)
		},
	}
	cmd.Flags().StringVarP(&req.BranchName, "branch", "b", "", "branch to move to the merge commit")
	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&conflicts, "conflicts", "", "file to write a conflicted merge to")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflicts.json>",
		Short: "Commit a conflicted merge with the selected sides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var partial vcgraph.MergeResult
			if err := readJSON(args[0], &partial); err != nil {
				return err
			}
			result, err := a.merger.Resolve(cmd.Context(), &partial)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, result)
		},
	}
}

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List branches and their commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			branches, err := a.backend.Branches(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, branches)
		},
	}
}
