package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/services"
	"github.com/tbourn/devlift/internal/workspace"
)

func newTreeCommand(opts *options) *cobra.Command {
	var (
		repo   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "tree [dir]",
		Short: "Print the directory tree of a local directory or a GitHub repository",
		Long: `Print a directory tree without spending quota.

Examples:
  devlift tree .
  devlift tree --repo octocat/Hello-World --format text`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("--format must be json or text")
			}
			if (repo == "") == (len(args) == 0) {
				return fmt.Errorf("give either a directory or --repo owner/name")
			}
			cfg := opts.cfg
			b := workspace.NewBuilder(cfg.Workspace.TreeMaxEntries, cfg.Workspace.Exclude...)

			var (
				tree *workspace.Tree
				err  error
			)
			if repo != "" {
				tree, err = remoteTree(cmd.Context(), opts, b, repo)
			} else {
				tree, err = b.Build(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return writeTree(cmd.OutOrStdout(), tree, format)
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "clone owner/name and print its tree")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|text")
	return cmd
}

func remoteTree(ctx context.Context, opts *options, b *workspace.Builder, target string) (*workspace.Tree, error) {
	owner, name, err := services.ParseRepoTarget(target)
	if err != nil {
		return nil, err
	}
	cfg := opts.cfg
	m := workspace.NewManager(cfg.Workspace.Root, cfg.Workspace.Prefix, cfg.Workspace.CloneBaseURL,
		workspace.GitCloner{Token: cfg.GitHub.Token, Depth: cfg.Workspace.CloneDepth})

	var tree *workspace.Tree
	err = m.With(ctx, owner, name, func(ctx context.Context, ws *workspace.Workspace) error {
		t, err := b.Build(ctx, ws.Path)
		if err != nil {
			return err
		}
		t.Root.Name = name
		tree = t
		return nil
	})
	return tree, err
}

func writeTree(w io.Writer, t *workspace.Tree, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}

	var sb strings.Builder
	sb.WriteString(t.Root.Name + "/\n")
	renderChildren(&sb, t.Root.Children, "")
	if t.Truncated {
		sb.WriteString("... (truncated)\n")
	}
	for _, warn := range t.Warnings {
		fmt.Fprintf(&sb, "! %s: %s\n", warn.Path, warn.Reason)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func renderChildren(sb *strings.Builder, nodes []domain.TreeNode, indent string) {
	for i, n := range nodes {
		branch, next := "├── ", "│   "
		if i == len(nodes)-1 {
			branch, next = "└── ", "    "
		}
		sb.WriteString(indent + branch + n.Name)
		if n.IsDir() {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
		if n.IsDir() {
			renderChildren(sb, n.Children, indent+next)
		}
	}
}
