package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rotaworks/schedsync/internal/engine"
	"github.com/rotaworks/schedsync/internal/merge"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Save, scan the shared folder and merge once.

When the merge has conflicts you are asked, row by row, which version to
keep. Without a terminal (or with --choice) one choice is applied to every
conflict:

  a     keep side A (the first participant, normally you)
  b     keep side B
  base  keep the row as it was before either edit
  both  insert/insert only: keep both rows, renumbering one

Without a terminal and without --choice the merge is abandoned and the
command exits with status 2.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		choiceFlag, _ := cmd.Flags().GetString("choice")
		var choice merge.Choice
		if choiceFlag != "" {
			c, err := merge.ParseChoice(choiceFlag)
			if err != nil {
				return err
			}
			choice = c
		}

		lock, err := acquireInstanceLock()
		if err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()

		fm, codec, err := openFolder()
		if err != nil {
			return err
		}
		eng, err := newEngine(fm, codec)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := eng.ForceSyncNow(ctx)
		if err != nil {
			return err
		}
		if res.Outcome != engine.OutcomeConflicts {
			printCycle(res)
			return nil
		}

		var resolutions []merge.Resolution
		switch {
		case choice != "":
			resolutions = merge.ResolveAll(res.Conflicts, choice)
		case term.IsTerminal(int(os.Stdin.Fd())):
			resolutions, err = askResolutions(res.Conflicts, cfg.Author)
			if err != nil {
				_ = eng.CancelResolution(ctx)
				return err
			}
		default:
			for _, c := range res.Conflicts {
				fmt.Println(renderConflict(c, cfg.Author))
			}
			_ = eng.CancelResolution(ctx)
			fmt.Fprintf(os.Stderr, "%s %d conflict(s); rerun with --choice or in a terminal\n",
				renderWarn("⚠"), len(res.Conflicts))
			os.Exit(2)
		}

		res, err = eng.ApplyResolutions(ctx, resolutions)
		if err != nil {
			_ = eng.CancelResolution(ctx)
			return err
		}
		printCycle(res)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("choice", "", "resolve every conflict with this choice (a, b, base, both)")
	rootCmd.AddCommand(syncCmd)
}

func printCycle(res *engine.CycleResult) {
	switch res.Outcome {
	case engine.OutcomeMerged:
		fmt.Printf("%s Merged changes from %s\n", renderPass("✓"), strings.Join(res.Participants, ", "))
		fmt.Printf("   Rows changed: %d\n", res.AutoMerged)
		fmt.Printf("   Files archived: %d\n", len(res.Archived))
	case engine.OutcomeNoChanges:
		fmt.Printf("%s Up to date\n", renderPass("✓"))
	case engine.OutcomeDeferred:
		fmt.Printf("%s Changes saved; they are folded into the base when a peer merges or at the next checkpoint\n",
			renderAccent("•"))
	case engine.OutcomeLockHeld:
		fmt.Printf("%s Another merge is in progress; try again shortly\n", renderWarn("⚠"))
	}
	for _, name := range res.Skipped {
		fmt.Printf("%s Skipped unreadable %s\n", renderWarn("⚠"), name)
	}
}

// askResolutions prompts for each conflict in turn.
func askResolutions(conflicts []merge.Conflict, me string) ([]merge.Resolution, error) {
	out := make([]merge.Resolution, 0, len(conflicts))
	for i, c := range conflicts {
		fmt.Println(renderConflict(c, me))

		var picked string
		sel := huh.NewSelect[string]().
			Title(fmt.Sprintf("Conflict %d of %d: keep which version?", i+1, len(conflicts))).
			Options(choiceOptions(c, me)...).
			Value(&picked)
		if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil, fmt.Errorf("resolution aborted")
			}
			return nil, err
		}

		out = append(out, merge.Resolution{Table: c.Table, SyncID: c.SyncID, Choice: merge.Choice(picked)})
	}
	return out, nil
}

func choiceOptions(c merge.Conflict, me string) []huh.Option[string] {
	if c.Kind == merge.DeleteUpdate {
		editor := c.ModifiedByA
		if c.RowA == nil {
			editor = c.ModifiedByB
		}
		return []huh.Option[string]{
			huh.NewOption("keep the row as edited by "+editor, string(merge.ChoiceA)),
			huh.NewOption("delete the row", string(merge.ChoiceBase)),
		}
	}
	opts := []huh.Option[string]{
		huh.NewOption(sideLabel(c.ModifiedByA, me), string(merge.ChoiceA)),
		huh.NewOption(sideLabel(c.ModifiedByB, me), string(merge.ChoiceB)),
		huh.NewOption("original (before both edits)", string(merge.ChoiceBase)),
	}
	if c.Kind == merge.InsertInsert {
		opts = append(opts, huh.NewOption("both (renumber one)", string(merge.ChoiceBoth)))
	}
	return opts
}
