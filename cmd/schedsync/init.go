package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rotaworks/schedsync/internal/db"
	"github.com/rotaworks/schedsync/internal/files"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Create the shared base snapshot",
	Long: `Create schedule.base in the shared folder, either from an existing SQLite
database or from a SQL script.

Every table that should be synced needs an integer sync id column
(default: sync_id). Tables without it are copied but never merged.

Examples:
  schedsync init -f /mnt/rota --from rota.db
  schedsync init -f /mnt/rota --sql schema.sql`,
	Annotations: map[string]string{annotationNoAuthor: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		script, _ := cmd.Flags().GetString("sql")
		if (from == "") == (script == "") {
			return fmt.Errorf("exactly one of --from or --sql is required")
		}

		ctx := context.Background()
		fm, codec, err := openFolder()
		if err != nil {
			return err
		}

		var data []byte
		if from != "" {
			data, err = os.ReadFile(from)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", from, err)
			}
		} else {
			ddl, err := os.ReadFile(script)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", script, err)
			}
			data, err = db.Create(ctx, string(ddl))
			if err != nil {
				return err
			}
		}

		sch, ds, err := codec.Decode(ctx, data)
		if err != nil {
			return fmt.Errorf("not a usable snapshot: %w", err)
		}
		if len(sch.Tables) == 0 {
			fmt.Fprintf(os.Stderr, "%s no table has a %s column; nothing will be merged\n",
				renderWarn("⚠"), codec.IDColumn())
		}

		if err := fm.InitBase(ctx, data); err != nil {
			if errors.Is(err, files.ErrAlreadyExists) {
				return fmt.Errorf("%s already exists in %s", fm.Names().Base(), cfg.Folder)
			}
			return err
		}

		fmt.Printf("%s Created %s\n", renderPass("✓"), fm.Names().Base())
		for _, t := range sch.Tables {
			fmt.Printf("   %s: %d rows\n", t.Name, ds.Len(t.Name))
		}
		return nil
	},
}

func init() {
	initCmd.Flags().String("from", "", "existing SQLite database to publish")
	initCmd.Flags().String("sql", "", "SQL script creating the database")
	rootCmd.AddCommand(initCmd)
}
