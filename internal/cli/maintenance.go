package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest>",
		Short: "Write a consistent copy of the database",
		Long: `Write a consistent copy of the database to dest while readers and
writers keep running. dest must not exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			db, err := rootOpts.openDB()
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer closeDB(db)

			epoch := db.Epoch()
			if err := db.Backup(cmd.Context(), args[0]); err != nil {
				return formatter.Fail("backup failed", err)
			}
			if formatter.Format == "json" {
				return formatter.Success(map[string]any{"path": args[0], "epoch": epoch})
			}
			fmt.Fprintf(formatter.Writer, "✓ backed up epoch %d to %s\n", epoch, args[0])
			return nil
		},
	}
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <src>",
		Short: "Replace every relation with the contents of a backup",
		Long: `Replace every stored relation with the relations and rows of the backup
at src, in one commit at a new epoch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			db, err := rootOpts.openDB()
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer closeDB(db)

			epoch, err := db.Restore(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("restore failed", err)
			}
			if formatter.Format == "json" {
				return formatter.Success(map[string]any{"path": args[0], "epoch": epoch})
			}
			fmt.Fprintf(formatter.Writer, "✓ restored %s at epoch %d\n", args[0], epoch)
			return nil
		},
	}
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim superseded versions and tombstones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			db, err := rootOpts.openDB()
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer closeDB(db)

			stats, err := db.Compact(cmd.Context())
			if err != nil {
				return formatter.Fail("compaction failed", err)
			}
			if formatter.Format == "json" {
				return formatter.Success(stats)
			}
			fmt.Fprintf(formatter.Writer, "✓ compacted at horizon %d: %d version(s), %d tombstone(s), %d relation(s) removed\n",
				stats.Horizon, stats.VersionsRemoved, stats.TombstonesRemoved, stats.RelationsDropped)
			return nil
		},
	}
}
