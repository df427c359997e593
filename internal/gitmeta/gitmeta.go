// Package gitmeta reads repository metadata attached to indexed documents.
package gitmeta

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotGitRepo indicates the path is not inside a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// Info describes the checked-out state of a repository.
type Info struct {
	// Branch is empty on a detached HEAD.
	Branch string
	Commit string
}

// Metadata returns the info as document metadata fields.
func (i Info) Metadata() map[string]any {
	m := map[string]any{"commit": i.Commit}
	if i.Branch != "" {
		m["branch"] = i.Branch
		m["main_branch"] = IsMainBranch(i.Branch)
	}
	return m
}

// Detect opens the repository containing path, searching parent directories.
func Detect(path string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
		}
		return Info{}, fmt.Errorf("open repository %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// No commits yet.
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("read HEAD: %w", err)
	}

	info := Info{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}

// IsMainBranch reports whether branch is main or master.
func IsMainBranch(branch string) bool {
	return branch == "main" || branch == "master"
}
