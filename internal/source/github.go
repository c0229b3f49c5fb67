package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-github/v61/github"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/oauth2"
)

// File is one fetched repository file.
type File struct {
	Path    string
	Content string
}

// Repo summarizes a repository for listings and resume prompts.
type Repo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	HTMLURL     string    `json:"html_url"`
	Stars       int       `json:"stars"`
	Fork        bool      `json:"fork"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is the authenticated GitHub account.
type User struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	HTMLURL     string `json:"html_url"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"public_repos"`
}

// maxInlineBytes is the largest file the contents API returns inline.
const maxInlineBytes = 1 << 20

// errNotInline marks a file whose body the contents API did not include.
var errNotInline = errors.New("content not returned inline")

// GitHub reads repositories through the GitHub REST API.
type GitHub struct {
	client *github.Client

	// Concurrency bounds parallel file downloads.
	Concurrency int
	// Attempts is the number of tries for transient failures.
	Attempts uint
	// MaxRepoPages caps repository listing pagination (100 per page).
	MaxRepoPages int
}

// NewGitHub returns a client authenticated with token (anonymous when
// empty). A non-empty baseURL replaces https://api.github.com/.
func NewGitHub(ctx context.Context, token, baseURL string) (*GitHub, error) {
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(hc)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client, Concurrency: 4, Attempts: 3, MaxRepoPages: 10}, nil
}

// FetchFiles downloads the root-level files of owner/repo whose names are in
// names. Files that do not exist, or are too large to be returned inline,
// are omitted with a warning; the result follows the order of names. A
// missing repository yields ErrNotFound.
func (g *GitHub) FetchFiles(ctx context.Context, owner, repo string, names []string) ([]File, error) {
	root, err := g.rootListing(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(root))
	for _, c := range root {
		if c.GetType() != "file" {
			continue
		}
		if c.GetSize() > maxInlineBytes {
			log.Warn().Str("repo", owner+"/"+repo).Str("file", c.GetName()).Int("size", c.GetSize()).Msg("skipping oversized file")
			continue
		}
		present[c.GetName()] = true
	}

	type indexed struct {
		i    int
		f    File
		skip bool
	}
	p := pool.NewWithResults[indexed]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(max(1, g.Concurrency))
	for i, name := range names {
		if !present[name] {
			continue
		}
		p.Go(func(ctx context.Context) (indexed, error) {
			body, err := g.fileContent(ctx, owner, repo, name)
			if errors.Is(err, errNotInline) || errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("repo", owner+"/"+repo).Str("file", name).Msg("skipping file")
				return indexed{i: i, skip: true}, nil
			}
			return indexed{i: i, f: File{Path: name, Content: body}}, err
		})
	}
	got, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(got, func(a, b int) bool { return got[a].i < got[b].i })

	out := make([]File, 0, len(got))
	for _, r := range got {
		if !r.skip {
			out = append(out, r.f)
		}
	}
	return out, nil
}

// ListRepos returns the authenticated user's repositories, most starred
// first, ties broken by name.
func (g *GitHub) ListRepos(ctx context.Context) ([]Repo, error) {
	opts := &github.RepositoryListOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Repo
	for page := 0; page < max(1, g.MaxRepoPages); page++ {
		batch, resp, err := g.client.Repositories.List(ctx, "", opts)
		if err != nil {
			return nil, classify(err)
		}
		for _, r := range batch {
			if r == nil {
				continue
			}
			out = append(out, Repo{
				Name:        r.GetName(),
				FullName:    r.GetFullName(),
				Description: r.GetDescription(),
				Language:    r.GetLanguage(),
				HTMLURL:     r.GetHTMLURL(),
				Stars:       r.GetStargazersCount(),
				Fork:        r.GetFork(),
				UpdatedAt:   r.GetUpdatedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Stars != out[b].Stars {
			return out[a].Stars > out[b].Stars
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// User returns the authenticated account.
func (g *GitHub) User(ctx context.Context) (*User, error) {
	u, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return nil, classify(err)
	}
	return &User{
		Login:       u.GetLogin(),
		Name:        u.GetName(),
		AvatarURL:   u.GetAvatarURL(),
		HTMLURL:     u.GetHTMLURL(),
		Bio:         u.GetBio(),
		PublicRepos: u.GetPublicRepos(),
	}, nil
}

func (g *GitHub) rootListing(ctx context.Context, owner, repo string) ([]*github.RepositoryContent, error) {
	return g.retry(ctx, "list repository root", func() ([]*github.RepositoryContent, error) {
		_, dir, _, err := g.client.Repositories.GetContents(ctx, owner, repo, "", nil)
		return dir, err
	})
}

func (g *GitHub) fileContent(ctx context.Context, owner, repo, path string) (string, error) {
	fc, err := g.retry(ctx, "fetch file", func() ([]*github.RepositoryContent, error) {
		f, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path, nil)
		return []*github.RepositoryContent{f}, err
	})
	if err != nil {
		return "", err
	}
	if len(fc) == 0 || fc[0] == nil {
		return "", fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}
	if fc[0].GetEncoding() == "none" {
		return "", fmt.Errorf("%s: %w", path, errNotInline)
	}
	body, err := fc[0].GetContent()
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %w", ErrUnavailable, path, err)
	}
	return body, nil
}

// retry runs fn with backoff for transient failures only. Errors come back
// classified.
func (g *GitHub) retry(ctx context.Context, what string, fn func() ([]*github.RepositoryContent, error)) ([]*github.RepositoryContent, error) {
	return retry.DoWithData(
		func() ([]*github.RepositoryContent, error) {
			res, err := fn()
			if err != nil {
				return nil, classify(err)
			}
			return res, nil
		},
		retry.Attempts(max(1, g.Attempts)),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrUnavailable) }),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("retry_number", n).
				Msg("retrying github " + what)
		}),
	)
}

// classify maps go-github errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: rate limited until %s", ErrUnavailable, rl.Rate.Reset.Time.Format(time.RFC3339))
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, er.Message)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, er.Message)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
