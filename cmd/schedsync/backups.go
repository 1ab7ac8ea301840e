package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:     "backups",
	GroupID: "maint",
	Short:   "List or prune archived files",
}

var backupsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List archived files, newest first",
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		fm, _, err := openFolder()
		if err != nil {
			return err
		}
		backups, err := fm.ListBackups(context.Background())
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("No backups")
			return nil
		}
		for i := len(backups) - 1; i >= 0; i-- {
			b := backups[i]
			day := renderMuted("undated")
			if !b.Time.IsZero() {
				day = b.Time.Format(time.DateOnly)
			}
			fmt.Printf("%-10s  %s\n", day, b.Name)
		}
		return nil
	},
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived files past the retention window",
	Long: `Delete archived files dated on or before a cutoff day.

The cutoff defaults to the configured retention (backup_retention_days).
--older-than takes a number of days or a phrase:

  schedsync backups prune --older-than 7
  schedsync backups prune --older-than "2 weeks ago"`,
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetString("older-than")
		ctx := context.Background()

		fm, _, err := openFolder()
		if err != nil {
			return err
		}

		var n int
		if olderThan == "" {
			n, err = fm.CleanupOldBackups(ctx, cfg.BackupRetentionDays)
		} else {
			var cutoff time.Time
			cutoff, err = parseCutoff(olderThan, time.Now())
			if err != nil {
				return err
			}
			n, err = fm.PruneBackups(ctx, cutoff)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Removed %d backup(s)\n", renderPass("✓"), n)
		return nil
	},
}

func init() {
	backupsPruneCmd.Flags().String("older-than", "", "cutoff: a number of days or a phrase like \"2 weeks ago\"")
	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd)
	rootCmd.AddCommand(backupsCmd)
}

// parseCutoff turns a day count or a natural-language phrase into the
// cutoff day relative to now.
func parseCutoff(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if days, err := strconv.Atoi(text); err == nil {
		if days < 0 {
			return time.Time{}, fmt.Errorf("day count must not be negative, got %d", days)
		}
		return now.AddDate(0, 0, -days), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a date", text)
	}
	if r.Time.After(now) {
		return time.Time{}, fmt.Errorf("%q is in the future", text)
	}
	return r.Time, nil
}
