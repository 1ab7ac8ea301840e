package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rotaworks/schedsync/internal/files"
	"github.com/rotaworks/schedsync/internal/merge"
)

var diffCmd = &cobra.Command{
	Use:     "diff <a> <b>",
	GroupID: "sync",
	Short:   "Compare two snapshots table by table",
	Long: `Compare the tracked tables of two snapshots and report tables whose row
counts or row contents differ. Rows are matched by content, not by sync id,
so a renumbered row still counts as equal.

Each argument is "base", an author name (their working copy), a file name
in the shared folder, or a path to a database file.

Examples:
  schedsync diff base alice
  schedsync diff alice bob
  schedsync diff schedule.base.bak.2026-10-18 base`,
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fm, codec, err := openFolder()
		if err != nil {
			return err
		}

		dataA, err := readSnapshot(ctx, fm, args[0])
		if err != nil {
			return err
		}
		dataB, err := readSnapshot(ctx, fm, args[1])
		if err != nil {
			return err
		}

		sch, a, err := codec.Decode(ctx, dataA)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[0], err)
		}
		_, b, err := codec.Decode(ctx, dataB)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[1], err)
		}

		diffs := merge.CompareSnapshots(sch, a, b)
		if len(diffs) == 0 {
			fmt.Printf("%s %s and %s have the same content\n", renderPass("✓"), args[0], args[1])
			return nil
		}
		fmt.Printf("A = %s, B = %s\n\n", args[0], args[1])
		for _, d := range diffs {
			fmt.Printf("%s %s: %s\n", renderWarn("≠"), renderTitle(d.Table), d.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

// readSnapshot resolves a diff argument to snapshot bytes.
func readSnapshot(ctx context.Context, fm *files.Manager, arg string) ([]byte, error) {
	switch {
	case arg == "base":
		return fm.ReadBase(ctx)
	case strings.ContainsAny(arg, `/\`):
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		return data, nil
	case files.ValidAuthor(arg) && !strings.HasPrefix(arg, fm.Names().Prefix()):
		return fm.Store().Read(ctx, fm.Names().Working(arg))
	default:
		return fm.Store().Read(ctx, arg)
	}
}
