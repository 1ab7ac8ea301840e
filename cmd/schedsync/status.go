package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the state of the shared folder",
	Long: `Show the base snapshot, the merge lock, each author's working copy and
pending change files, and how many backups are kept.`,
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fm, _, err := openFolder()
		if err != nil {
			return err
		}

		scan, err := fm.ScanFolder(ctx, cfg.Author)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s %s\n\n", renderTitle("Shared folder"), cfg.Folder)

		if scan.Base == "" {
			fmt.Printf("%s No base snapshot; run 'schedsync init'\n\n", renderWarn("⚠"))
		} else {
			info, err := fm.Store().Stat(ctx, scan.Base)
			if err != nil {
				return err
			}
			fmt.Printf("  Base:     %s (%s, updated %s)\n", scan.Base, formatSize(info.Size),
				info.ModTime.Local().Format(time.DateTime))
		}

		lock, err := fm.ReadMergeLock(ctx)
		switch {
		case err != nil:
			fmt.Printf("  Lock:     %s %v\n", renderFail("corrupt"), err)
		case lock == nil:
			fmt.Printf("  Lock:     %s\n", renderPass("none"))
		case fm.IsLockStale(lock.StartedAt):
			fmt.Printf("  Lock:     %s held by %s since %s\n", renderWarn("stale"), lock.Author,
				lock.StartedAt.Local().Format(time.DateTime))
		default:
			fmt.Printf("  Lock:     %s by %s since %s\n", renderAccent("merging"), lock.Author,
				lock.StartedAt.Local().Format(time.DateTime))
		}

		fmt.Printf("  Backups:  %d\n", len(scan.BackupFiles))
		if len(scan.Skipped) > 0 {
			fmt.Printf("  Skipped:  %d unrecognized file(s)\n", len(scan.Skipped))
		}

		authors := make(map[string]bool)
		for _, w := range scan.WorkingFiles {
			authors[w.Author] = true
		}
		for _, a := range scan.ChangeAuthors() {
			authors[a] = true
		}
		if len(authors) == 0 {
			fmt.Println()
			return nil
		}

		fmt.Printf("\n%s\n", renderTitle("Authors"))
		for _, a := range sortedKeys(authors) {
			marker := " "
			if a == cfg.Author {
				marker = renderAccent("*")
			}
			working := renderMuted("no working copy")
			if scan.WorkingFileOf(a) != "" {
				working = "working copy"
			}
			pending := scan.ChangeFilesBy(a)
			line := fmt.Sprintf("%s %-16s %s", marker, a, working)
			if len(pending) > 0 {
				line += fmt.Sprintf(", %s", renderWarn(fmt.Sprintf("%d unmerged change file(s)", len(pending))))
			}
			cp, err := fm.ReadCheckpoint(ctx, a)
			if err == nil && !cp.LastCheckpoint.IsZero() {
				line += renderMuted(fmt.Sprintf(", checkpoint %s", cp.LastCheckpoint.Local().Format(time.DateOnly)))
			}
			fmt.Println(line)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
