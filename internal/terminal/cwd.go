package terminal

import (
	"os"

	"github.com/go-git/go-git/v5"
)

// defaultCwd resolves a terminal's initial working directory when the
// caller doesn't supply one: the enclosing git repository's root if the
// current directory is inside one, otherwise the process's own cwd.
//
// Grounded on hub.go's use of git.DetectCurrentRepo in the teacher: a
// freshly created terminal should land at a project's root the same way
// the teacher's agent worktrees do, rather than wherever the server
// happened to be started from.
func defaultCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	repo, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return cwd
	}

	wt, err := repo.Worktree()
	if err != nil {
		return cwd
	}

	return wt.Filesystem.Root()
}
