package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tbourn/devlift/internal/domain"
)

// ErrNotDirectory is returned by Build when the root is not a directory.
var ErrNotDirectory = errors.New("workspace: tree root is not a directory")

// Warning describes an entry that was left out of a tree.
type Warning struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Tree is the result of a build.
type Tree struct {
	Root      domain.TreeNode `json:"root"`
	Warnings  []Warning       `json:"warnings,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Builder converts a directory into a domain.TreeNode.
//
// Policy:
//   - Entries whose name is in Exclude never appear, at any depth.
//   - Symbolic links are not followed; each one is a file leaf, even when
//     it points at a directory or at nothing.
//   - A child entry that cannot be read (permission denied, failing stat)
//     is left out and recorded as a Warning. Only an unreadable root fails
//     the build.
//   - Children are sorted by name, so unchanged disk state yields an
//     identical tree.
//   - Once MaxEntries nodes have been emitted, remaining entries are
//     dropped and Truncated is set. Zero means no limit.
type Builder struct {
	Exclude    map[string]struct{}
	MaxEntries int
}

// NewBuilder returns a Builder excluding the given segment names. With no
// names it excludes ".git".
func NewBuilder(maxEntries int, exclude ...string) *Builder {
	if len(exclude) == 0 {
		exclude = []string{".git"}
	}
	ex := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		ex[e] = struct{}{}
	}
	return &Builder{Exclude: ex, MaxEntries: maxEntries}
}

type walker struct {
	b     *Builder
	root  string
	count int
	tree  *Tree
}

// Build walks root. The returned tree's root node is named after root's
// base name. ctx is checked once per directory.
func (b *Builder) Build(ctx context.Context, root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("tree root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("tree root: %w", err)
	}

	t := &Tree{}
	w := &walker{b: b, root: root, tree: t}
	children, err := w.children(ctx, root, entries)
	if err != nil {
		return nil, err
	}
	t.Root = domain.TreeNode{
		Name:     filepath.Base(root),
		Kind:     domain.KindDirectory,
		Children: children,
	}
	return t, nil
}

// children converts already-listed entries of dir. os.ReadDir sorts by name.
func (w *walker) children(ctx context.Context, dir string, entries []fs.DirEntry) ([]domain.TreeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.TreeNode, 0, len(entries))
	for _, e := range entries {
		if _, skip := w.b.Exclude[e.Name()]; skip {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if w.b.MaxEntries > 0 && w.count >= w.b.MaxEntries {
			if !w.tree.Truncated {
				w.tree.Truncated = true
				w.warn(path, fmt.Sprintf("entry limit %d reached", w.b.MaxEntries))
			}
			return out, nil
		}

		switch {
		case e.Type()&fs.ModeSymlink != 0:
			w.count++
			out = append(out, domain.TreeNode{Name: e.Name(), Kind: domain.KindFile})
		case e.IsDir():
			sub, err := os.ReadDir(path)
			if err != nil {
				w.warn(path, err.Error())
				continue
			}
			w.count++
			kids, err := w.children(ctx, path, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, domain.TreeNode{Name: e.Name(), Kind: domain.KindDirectory, Children: kids})
		default:
			if e.Type() == 0 {
				// Regular file: confirm it can still be stat'ed.
				if _, err := e.Info(); err != nil {
					w.warn(path, err.Error())
					continue
				}
			}
			w.count++
			out = append(out, domain.TreeNode{Name: e.Name(), Kind: domain.KindFile})
		}
	}
	return out, nil
}

func (w *walker) warn(path, reason string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	w.tree.Warnings = append(w.tree.Warnings, Warning{Path: filepath.ToSlash(rel), Reason: reason})
}
