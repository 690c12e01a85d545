package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/codestore"
	"github.com/spf13/cobra"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the code store",
	}

	cmd.AddCommand(newStoreListCmd())
	cmd.AddCommand(newStoreGetCmd())
	cmd.AddCommand(newStoreDeleteCmd())

	return cmd
}

func newStoreListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			metas, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			if format == "json" {
				if metas == nil {
					metas = []codestore.Meta{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}

			return writeStoreTable(cmd.OutOrStdout(), metas)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")

	return cmd
}

func writeStoreTable(w io.Writer, metas []codestore.Meta) error {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-36s  %-20s  %5s  %7s  %7s  %s\n", "ID", "Created", "Batch", "Frames", "K", "Name")
	fmt.Fprintln(sb, strings.Repeat("-", 96))
	for _, m := range metas {
		fmt.Fprintf(sb, "%-36s  %-20s  %5d  %7d  %7d  %s\n",
			m.ID, m.CreatedAt.Format(time.DateTime), m.Batch, m.Frames, m.K, m.Name)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func newStoreGetCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Copy a stored sequence to a code file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := requireFlag("out", out); err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out == "-" {
				return codes.Write(cmd.OutOrStdout(), rec.Codes)
			}
			return codes.WriteFile(out, rec.Codes)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output code file, - for stdout (required)")

	return cmd
}

func newStoreDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored sequences",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}

			return nil
		},
	}
}
