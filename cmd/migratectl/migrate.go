package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"migration-service/config"
	"migration-service/internal/app"
	"migration-service/internal/domain"
	"migration-service/internal/infra"
	"migration-service/internal/usecase"
)

// newMigrateCmd はAPIを経由せずにデータベースへ直接マイグレーションを行うコマンド。
func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations locally",
		Long:  "Apply, revert and inspect migrations directly against DATABASE_URL without the API server",
	}

	upCmd := &cobra.Command{
		Use:     "up",
		Aliases: []string{"run"},
		Short:   "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(c *app.Components) error {
				result := c.Service.RunAllPending(cmd.Context())
				return printBatch(cmd.OutOrStdout(), result)
			})
		},
	}

	var folder string
	runSpecific := &cobra.Command{
		Use:   "run-specific <file>",
		Short: "Apply a single migration file regardless of history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(c *app.Components) error {
				result, err := c.Service.RunSpecific(cmd.Context(), args[0], folder)
				if err != nil {
					return err
				}
				return printBatch(cmd.OutOrStdout(), result)
			})
		},
	}
	runSpecific.Flags().StringVar(&folder, "folder", "", "Migration folder name (defaults to MIGRATION_FOLDER_NAME)")

	revert := &cobra.Command{
		Use:   "revert <file>",
		Short: "Revert a single migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(c *app.Components) error {
				result, err := c.Service.RevertSpecific(cmd.Context(), args[0], folder)
				if err != nil {
					return err
				}
				return printBatch(cmd.OutOrStdout(), result)
			})
		},
	}
	revert.Flags().StringVar(&folder, "folder", "", "Migration folder name (defaults to MIGRATION_FOLDER_NAME)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the status of all migrations (applied/pending/ignored)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(c *app.Components) error {
				report, err := c.Service.GetMigrationStatus(cmd.Context(), folder)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				rows := make([]statusRow, len(report.Migrations))
				for i, m := range report.Migrations {
					rows[i] = statusRow{FileName: m.FileName, Status: string(m.Status)}
					if m.AppliedAt != nil {
						rows[i].AppliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				var watermark *int64
				if report.HasWatermark {
					watermark = &report.Watermark
				}
				return printStatus(cmd.OutOrStdout(), report.DirectoryKey, watermark, rows)
			})
		},
	}
	status.Flags().StringVar(&folder, "folder", "", "Migration folder name (defaults to MIGRATION_FOLDER_NAME)")

	var ext string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return createMigration(cmd.OutOrStdout(), cfg, folder, args[0], ext, time.Now())
		},
	}
	create.Flags().StringVar(&folder, "folder", "", "Migration folder name (defaults to MIGRATION_FOLDER_NAME)")
	create.Flags().StringVar(&ext, "type", "sql", "Migration file type: sql, go")

	migrateCmd.AddCommand(upCmd, runSpecific, revert, status, create)
	return migrateCmd
}

// withComponents は設定を読み込んで依存関係を組み立て、fnを実行する。
func withComponents(ctx context.Context, fn func(c *app.Components) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	infra.SetupLogger(cfg)

	c, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

type statusRow struct {
	FileName  string
	Status    string
	AppliedAt string
}

// printStatus はステータスをテーブル形式で出力する。
func printStatus(out io.Writer, dirKey string, watermark *int64, rows []statusRow) error {
	wm := "-"
	if watermark != nil {
		wm = strconv.FormatInt(*watermark, 10)
	}
	fmt.Fprintf(out, "Directory key: %s (watermark: %s)\n", dirKey, wm)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tAPPLIED AT")
	fmt.Fprintln(w, "----\t------\t----------")
	for _, r := range rows {
		appliedAt := r.AppliedAt
		if appliedAt == "" {
			appliedAt = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.FileName, r.Status, appliedAt)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// printBatch はローカル実行の結果を出力する。
func printBatch(out io.Writer, result domain.BatchResult) error {
	succeeded, failed := result.Counts()
	if output == "json" {
		fmt.Fprintf(out, `{"msg":%q,"description":%q,"succeeded":%d,"failed":%d}`+"\n",
			result.Status, result.Description, succeeded, failed)
	} else {
		fmt.Fprintf(out, "%s: %s\n", result.Status, result.Description)
		for _, item := range result.Items {
			if item.Err != nil {
				fmt.Fprintf(out, "  %-50s %-10s %v\n", item.FileName, item.Outcome, item.Err)
			} else {
				fmt.Fprintf(out, "  %-50s %s\n", item.FileName, item.Outcome)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d migration(s) did not complete", failed)
	}
	return nil
}

// createMigration は設定フォルダに新しいマイグレーションファイルを作成する。
func createMigration(out io.Writer, cfg *config.Config, folder, name, ext string, now time.Time) error {
	if folder == "" {
		folder = cfg.MigrationFolderName
	}
	if err := domain.ValidateFolderName(folder); err != nil {
		return err
	}
	dir, err := usecase.DirSourceResolver(cfg.MigrationsRoot)(folder)
	if err != nil {
		return err
	}

	file, err := usecase.NewFileCatalog().Create(dir, name, ext, now)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Created %s\n", file.Path)
	if ext == "go" {
		fmt.Fprintln(out, "Register the new unit in the units list of the migrations package.")
	}
	return nil
}
