// Package gitstate implements Component K: a thin wrapper around go-git for
// pulling down a previously git-committed state tree before the engine
// operates on it. It is a clone/pull convenience, not a sync engine -- per
// DESIGN.md's resolution of note (c), the unfinished git "epoch" endpoints
// from the original source are out of scope.
package gitstate

import (
	"context"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/pkg/errors"
)

// Auth holds optional HTTP basic-auth credentials for a private state
// repository.
type Auth struct {
	Username string
	Password string
}

func (a *Auth) method() transport.AuthMethod {
	if a == nil || a.Username == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: a.Username, Password: a.Password}
}

// Clone checks out repoURL into dir, using go-billy's on-disk filesystem
// abstraction for both the worktree and the object store.
func Clone(ctx context.Context, repoURL, dir string, auth *Auth) error {
	storer := filesystem.NewStorage(osfs.New(filepath.Join(dir, ".git")), cache.NewObjectLRUDefault())
	worktree := osfs.New(dir)

	_, err := git.CloneContext(ctx, storer, worktree, &git.CloneOptions{
		URL:          repoURL,
		Auth:         auth.method(),
		SingleBranch: true,
	})
	return errors.Wrapf(err, "clone %s into %s", repoURL, dir)
}

// Pull fast-forwards an existing checkout at dir against its configured
// remote. A worktree already up to date is not an error.
func Pull(ctx context.Context, dir string, auth *Auth) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return errors.Wrapf(err, "open repository at %s", dir)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrapf(err, "open worktree at %s", dir)
	}

	err = wt.PullContext(ctx, &git.PullOptions{Auth: auth.method(), SingleBranch: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrapf(err, "pull into %s", dir)
	}
	return nil
}
