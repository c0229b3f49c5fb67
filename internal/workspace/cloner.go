package workspace

import (
	"context"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Cloner materializes a repository into an existing, empty directory.
type Cloner interface {
	Clone(ctx context.Context, url, dir string) error
}

// GitCloner checks out the default branch with go-git. No git binary is
// required.
type GitCloner struct {
	// Token authenticates HTTPS clones of private repositories. Optional.
	Token string
	// Depth limits history; 0 fetches the full history.
	Depth int
}

// Clone implements Cloner.
func (g GitCloner) Clone(ctx context.Context, url, dir string) error {
	opts := &git.CloneOptions{
		URL:          url,
		SingleBranch: true,
		Tags:         git.NoTags,
		Depth:        g.Depth,
	}
	if g.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: g.Token}
	}
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}
