package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyswat/vcgraph"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("VCGRAPH_STORE_PATH", filepath.Join(dir, "store.db"))
	t.Setenv("VCGRAPH_LOG_LEVEL", "error")
	t.Setenv("VCGRAPH_LOG_PRETTY", "false")
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), "vcgraph %v", args)
	return out.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportExport(t *testing.T) {
	dir := setupWorkspace(t)
	doc := writeFile(t, dir, "a.html", `<html><head></head><body><p class="x">hello</p></body></html>`)

	var result vcgraph.CommitResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "import", doc)), &result))
	assert.Equal(t, "master", result.UpdatedBranch)
	assert.NotEmpty(t, result.Hash)

	exported := run(t, "export", "master")
	assert.Contains(t, exported, `<p class="x">hello</p>`)
	assert.Equal(t, exported, run(t, "export", result.Hash))

	var branches map[string]string
	require.NoError(t, json.Unmarshal([]byte(run(t, "branches")), &branches))
	assert.Equal(t, map[string]string{"master": result.Hash}, branches)
	yamlOut := run(t, "-o", "yaml", "branches")
	assert.Contains(t, yamlOut, "master: ")
	assert.Contains(t, yamlOut, result.Hash)
}

func TestDiffApplyMerge(t *testing.T) {
	dir := setupWorkspace(t)
	first := writeFile(t, dir, "v1.html", `<html><head></head><body><p>hello</p></body></html>`)
	second := writeFile(t, dir, "v2.html", `<html><head></head><body><p>hello world</p><p>more</p></body></html>`)

	var c1, c2 vcgraph.CommitResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "import", first)), &c1))
	require.NoError(t, json.Unmarshal([]byte(run(t, "import", second, "-m", "second")), &c2))

	patch := filepath.Join(dir, "patch.json")
	require.NoError(t, os.WriteFile(patch, []byte(run(t, "diff", c1.Hash, "master")), 0o644))

	var applied vcgraph.CommitResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "apply", c1.Hash, patch, "--branch", "dev")), &applied))
	assert.Equal(t, "dev", applied.UpdatedBranch)
	assert.Empty(t, applied.Skipped)
	assert.Equal(t, c2.RootHash, applied.RootHash)
	assert.Contains(t, run(t, "export", "dev"), "<p>more</p>")

	var merged vcgraph.MergeResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "merge", "dev", "master")), &merged))
	assert.Equal(t, vcgraph.StateMerged, merged.State)
	assert.Equal(t, c1.Hash, merged.BaseCommitHash)
	assert.Equal(t, "master", merged.UpdatedBranch)
	assert.Contains(t, run(t, "export", "master"), "<p>hello world</p>")
}

func TestMergeConflictFile(t *testing.T) {
	dir := setupWorkspace(t)
	base := writeFile(t, dir, "base.html", `<html><head></head><body><p>hello</p></body></html>`)
	mine := writeFile(t, dir, "mine.html", `<html><head></head><body><p>hi</p></body></html>`)
	theirs := writeFile(t, dir, "theirs.html", `<html><head></head><body><p>hey</p></body></html>`)

	var c1 vcgraph.CommitResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "import", base)), &c1))
	for branch, doc := range map[string]string{"theirs": theirs, "mine": mine} {
		run(t, "import", doc, "--branch", "tmp-"+branch)
		patch := filepath.Join(dir, branch+".json")
		require.NoError(t, os.WriteFile(patch, []byte(run(t, "diff", c1.Hash, "tmp-"+branch)), 0o644))
		run(t, "apply", c1.Hash, patch, "--branch", branch)
	}

	conflicts := filepath.Join(dir, "conflicts.json")
	var partial vcgraph.MergeResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "merge", "mine", "theirs", "--conflicts", conflicts)), &partial))
	require.Equal(t, vcgraph.StateConflicted, partial.State)
	require.Len(t, partial.Conflict.Items, 1)
	assert.Equal(t, "hi", partial.Conflict.Items[0].Mine.Value)
	assert.Equal(t, "hey", partial.Conflict.Items[0].Theirs.Value)

	var saved vcgraph.MergeResult
	require.NoError(t, readJSON(conflicts, &saved))
	saved.Conflict.Items[0].Selected = vcgraph.SelectTheirs
	require.NoError(t, writeJSON(conflicts, saved))

	var resolved vcgraph.MergeResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "resolve", conflicts)), &resolved))
	assert.Equal(t, vcgraph.StateMerged, resolved.State)
	assert.Equal(t, "theirs", resolved.UpdatedBranch)
	assert.Contains(t, run(t, "export", "theirs"), "<p>hey</p>")
}
