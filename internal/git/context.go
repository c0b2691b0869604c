// Package git reads repository details for the directory an agent session
// was started in.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const gitTimeout = 2 * time.Second

// Context is what a session records about its repository
type Context struct {
	RepoRoot  string `json:"repo_root"`
	RepoName  string `json:"repo_name"`
	Branch    string `json:"branch,omitempty"`
	Commit    string `json:"commit,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
}

// Detect returns repository details for workingDir, or nil outside a
// repository or when git is unavailable
func Detect(ctx context.Context, workingDir string) *Context {
	if workingDir == "" {
		return nil
	}
	root := runGitCmd(ctx, workingDir, "rev-parse", "--show-toplevel")
	if root == "" {
		return nil
	}

	gc := &Context{
		RepoRoot:  root,
		Branch:    runGitCmd(ctx, workingDir, "branch", "--show-current"),
		Commit:    runGitCmd(ctx, workingDir, "rev-parse", "HEAD"),
		RemoteURL: runGitCmd(ctx, workingDir, "remote", "get-url", "origin"),
	}
	gc.RepoName = repoName(gc.RemoteURL, root)
	return gc
}

// RepoName names the repository for a directory, falling back to the
// directory's base name outside git
func RepoName(ctx context.Context, workingDir string) string {
	if gc := Detect(ctx, workingDir); gc != nil {
		return gc.RepoName
	}
	return filepath.Base(workingDir)
}

// repoName prefers the remote's last path element: github.com/user/repo.git -> repo
func repoName(remote, root string) string {
	remote = strings.TrimSuffix(strings.TrimSpace(remote), ".git")
	if idx := strings.LastIndexAny(remote, "/:"); idx != -1 && idx < len(remote)-1 {
		return remote[idx+1:]
	}
	return filepath.Base(root)
}

// runGitCmd executes a git command with timeout and returns trimmed stdout
func runGitCmd(ctx context.Context, dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(stdout.String())
}
