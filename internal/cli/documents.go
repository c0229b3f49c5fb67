package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newDocumentsCommand(opts *options) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage the source documents used for LinkedIn generation",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "owner of the document (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	put := &cobra.Command{
		Use:   "put <file.pdf>",
		Short: "Register a PDF, replacing the user's previous document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.documents.Register(cmd.Context(), strings.TrimSpace(userID), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the user's documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.documents.List(cmd.Context(), strings.TrimSpace(userID))
			if err != nil {
				return err
			}
			return printJSON(cmd, docs)
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a document and its stored bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.documents.Remove(cmd.Context(), strings.TrimSpace(userID), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(put, list, rm)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
