package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tbourn/devlift/internal/domain"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(f), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestBuild_RoundTripExcludesGit(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")
	writeTree(t, root, "a.txt", "dir/b.txt", ".git/HEAD", ".git/objects/ab/cdef")

	tree, err := NewBuilder(0).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := domain.TreeNode{Name: "repo", Kind: domain.KindDirectory, Children: []domain.TreeNode{
		{Name: "a.txt", Kind: domain.KindFile},
		{Name: "dir", Kind: domain.KindDirectory, Children: []domain.TreeNode{
			{Name: "b.txt", Kind: domain.KindFile},
		}},
	}}
	if !reflect.DeepEqual(tree.Root, want) {
		t.Fatalf("tree mismatch\n got: %+v\nwant: %+v", tree.Root, want)
	}
	if len(tree.Warnings) != 0 || tree.Truncated {
		t.Fatalf("unexpected warnings: %+v", tree)
	}
}

func TestBuild_IdempotentAndSorted(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "zeta.go", "alpha.go", "mid/x", "Beta.md")

	b := NewBuilder(0)
	first, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rebuild differs")
	}
	var names []string
	for _, c := range first.Root.Children {
		names = append(names, c.Name)
	}
	if !reflect.DeepEqual(names, []string{"Beta.md", "alpha.go", "mid", "zeta.go"}) {
		t.Fatalf("children not sorted: %v", names)
	}
}

func TestBuild_CustomExcludeAnyDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "node_modules/x.js", "pkg/node_modules/y.js", "pkg/z.js", ".git/HEAD")

	tree, err := NewBuilder(0, "node_modules").Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// root, .git, .git/HEAD, pkg, pkg/z.js
	if got := tree.Root.Count(); got != 5 {
		t.Fatalf("Count = %d, want 5", got)
	}
	for _, c := range tree.Root.Children {
		if c.Name == "node_modules" {
			t.Fatalf("excluded directory present")
		}
	}
}

func TestBuild_SymlinksAreFileLeaves(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "real/file.txt")
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link-dir")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "broken")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	tree, err := NewBuilder(0).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	kinds := map[string]domain.NodeKind{}
	for _, c := range tree.Root.Children {
		kinds[c.Name] = c.Kind
		if c.Name != "real" && len(c.Children) != 0 {
			t.Fatalf("symlink %q was followed", c.Name)
		}
	}
	if kinds["link-dir"] != domain.KindFile || kinds["broken"] != domain.KindFile {
		t.Fatalf("symlinks should be file leaves: %v", kinds)
	}
	if len(tree.Warnings) != 0 {
		t.Fatalf("symlinks are not warnings: %+v", tree.Warnings)
	}
}

func TestBuild_UnreadableDirectoryIsSkippedWithWarning(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}
	root := t.TempDir()
	writeTree(t, root, "ok.txt", "secret/hidden.txt")
	secret := filepath.Join(root, "secret")
	if err := os.Chmod(secret, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(secret, 0o755) })

	tree, err := NewBuilder(0).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("child failure must not abort the build: %v", err)
	}
	if len(tree.Root.Children) != 1 || tree.Root.Children[0].Name != "ok.txt" {
		t.Fatalf("unexpected children: %+v", tree.Root.Children)
	}
	if len(tree.Warnings) != 1 || tree.Warnings[0].Path != "secret" {
		t.Fatalf("expected one warning for secret, got %+v", tree.Warnings)
	}
}

func TestBuild_MaxEntriesTruncates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a", "b", "c", "d")

	tree, err := NewBuilder(2).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !tree.Truncated || len(tree.Root.Children) != 2 || len(tree.Warnings) != 1 {
		t.Fatalf("expected truncation after 2 entries, got %+v", tree)
	}
}

func TestBuild_RootErrors(t *testing.T) {
	b := NewBuilder(0)
	if _, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing root err = %v", err)
	}

	file := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(file, nil, 0o644)
	if _, err := b.Build(context.Background(), file); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("file root err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Build(ctx, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled build err = %v", err)
	}
}
