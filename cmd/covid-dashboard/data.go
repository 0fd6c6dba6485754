package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/db"
	"github.com/coviddash/dashboard/migrations"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load a patient CSV into PostgreSQL as a new dataset version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if list, _ := cmd.Flags().GetBool("list"); list {
				datasets, err := patient.ListDatasets(ctx, pool)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tROWS\tIMPORTED AT")
				for _, ds := range datasets {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", ds.ID, ds.Name, ds.RowCount, ds.ImportedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			}

			if len(args) != 1 {
				return fmt.Errorf("a CSV file is required unless --list is given")
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = cfg.DatasetName
			}

			table, err := patient.NewFileSource(args[0], cfg.LoadOptions()).Load(ctx)
			if err != nil {
				return err
			}
			ds, err := patient.ImportTable(ctx, pool, name, table)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s) as dataset %s (%s).\n", ds.RowCount, ds.Name, ds.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Dataset name (defaults to DATASET_NAME)")
	cmd.Flags().Bool("list", false, "List imported datasets instead of importing")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the built-in set")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := newMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			target, _ := cmd.Flags().GetInt("to")
			count, err := migrator.UpTo(ctx, target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := newMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
			}
			return w.Flush()
		},
	})

	return cmd
}

func newMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")
	var files fs.FS = migrations.Files
	if dir != "" {
		files = os.DirFS(dir)
	}
	return db.NewMigrator(pool, files, schema), pool.Close, nil
}
