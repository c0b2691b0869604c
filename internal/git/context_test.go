package git

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoNameFromRemote(t *testing.T) {
	assert.Equal(t, "cli", repoName("https://github.com/acme/cli.git", "/src/x"))
	assert.Equal(t, "cli", repoName("git@github.com:cli.git", "/src/x"))
	assert.Equal(t, "x", repoName("", "/src/x"))
	assert.Equal(t, "x", repoName("weird/", "/src/x"))
}

func TestDetectOutsideRepo(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Detect(ctx, ""))

	dir := t.TempDir()
	if _, err := exec.LookPath("git"); err == nil {
		assert.Nil(t, Detect(ctx, dir))
	}
	assert.Equal(t, filepath.Base(dir), RepoName(ctx, dir))
}

func TestDetectInRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q", "-b", "feature/sync"},
		{"remote", "add", "origin", "https://example.com/team/widgets.git"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), args)
	}

	gc := Detect(context.Background(), dir)
	require.NotNil(t, gc)
	assert.Equal(t, "widgets", gc.RepoName)
	assert.Equal(t, "feature/sync", gc.Branch)
	assert.Empty(t, gc.Commit)
}
