// Package gitinfo stamps submissions and runs with the repository state of
// the code they were started from.
package gitinfo

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

const shortHashLen = 8

// Info describes the repository state of a directory.
type Info struct {
	Commit string
	Dirty  bool
}

// Describe reports the repository state of dir, searching parent
// directories for the repository root the way git does. A directory outside
// any repository, or a repository without commits, yields a zero Info and
// no error.
func Describe(dir string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("failed to open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Info{}, nil
	}

	info := Info{Commit: head.Hash().String()[:shortHashLen]}

	wt, err := repo.Worktree()
	if err != nil {
		return info, nil
	}
	status, err := wt.Status()
	if err != nil {
		return info, nil
	}
	info.Dirty = !status.IsClean()

	return info, nil
}

// String renders the info for logs and run records.
func (i Info) String() string {
	if i.Commit == "" {
		return ""
	}
	if i.Dirty {
		return i.Commit + "-dirty"
	}
	return i.Commit
}
