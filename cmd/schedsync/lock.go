package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: "maint",
	Short:   "Inspect or clear the merge lock",
}

var lockShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show who holds the merge lock",
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		fm, _, err := openFolder()
		if err != nil {
			return err
		}
		lock, err := fm.ReadMergeLock(context.Background())
		if err != nil {
			return err
		}
		if lock == nil {
			fmt.Printf("%s No merge in progress\n", renderPass("✓"))
			return nil
		}

		state := renderAccent("active")
		if fm.IsLockStale(lock.StartedAt) {
			state = renderWarn("stale")
		}
		fmt.Printf("Merge lock (%s)\n", state)
		fmt.Printf("   Author:  %s\n", lock.Author)
		fmt.Printf("   Started: %s (%s ago)\n", lock.StartedAt.Local().Format(time.DateTime),
			time.Since(lock.StartedAt).Round(time.Second))
		if len(lock.WorkingFiles) > 0 {
			fmt.Printf("   Files:   %s\n", strings.Join(lock.WorkingFiles, ", "))
		}
		return nil
	},
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the merge lock",
	Long: `Remove the merge lock left behind by a crashed merge.

Stale locks are removed automatically on the next scan. Clearing a fresh
lock while its merge is still running lets two merges race; --force is
required for that.`,
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		ctx := context.Background()

		fm, _, err := openFolder()
		if err != nil {
			return err
		}
		lock, err := fm.ReadMergeLock(ctx)
		if err == nil && lock == nil {
			fmt.Printf("%s No merge lock\n", renderPass("✓"))
			return nil
		}
		if err == nil && !fm.IsLockStale(lock.StartedAt) && !force {
			return fmt.Errorf("lock held by %s since %s is still fresh; use --force to clear it",
				lock.Author, lock.StartedAt.Local().Format(time.DateTime))
		}

		if err := fm.RemoveMergeLock(ctx); err != nil {
			return err
		}
		commandLogger("lock").Info("merge lock cleared", "forced", force)
		fmt.Printf("%s Merge lock cleared\n", renderPass("✓"))
		return nil
	},
}

func init() {
	lockClearCmd.Flags().Bool("force", false, "clear a lock that is not stale yet")
	lockCmd.AddCommand(lockShowCmd, lockClearCmd)
	rootCmd.AddCommand(lockCmd)
}
