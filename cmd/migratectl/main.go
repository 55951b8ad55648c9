// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "migratectl",
		Short: "Migration Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("MIGRATECTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set MIGRATECTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runSpecificCmd())
	rootCmd.AddCommand(revertCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSecretCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "migratectl version %s\n", version)
		},
	}
}

// migrationResponse はAPIレスポンスの形式。
type migrationResponse struct {
	Msg         string `json:"msg"`
	Description string `json:"description"`
	Data        *struct {
		RunID string `json:"run_id"`
		Items []struct {
			FileName string `json:"file_name"`
			Outcome  string `json:"outcome"`
			Error    string `json:"error"`
		} `json:"items"`
	} `json:"data"`
}

// runCmd は未適用マイグレーションの実行コマンド。
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all pending migrations on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, "/v1/migrations/run", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printMigrationResponse(cmd.OutOrStdout(), body)
		},
	}
}

// runSpecificCmd は指定マイグレーションの実行コマンド。
func runSpecificCmd() *cobra.Command {
	var fileName, folderName string
	cmd := &cobra.Command{
		Use:   "run-specific",
		Short: "Run a specific migration file on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileName == "" {
				return fmt.Errorf("--file is required")
			}
			req := map[string]string{
				"migration_file_name":   fileName,
				"migration_folder_name": folderName,
			}
			body, err := callAPI(http.MethodPost, "/v1/migrations/run-specific", req, http.StatusOK)
			if err != nil {
				return err
			}
			return printMigrationResponse(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&fileName, "file", "", "Migration file name (required)")
	cmd.Flags().StringVar(&folderName, "folder", "", "Migration folder name (defaults to the server setting)")
	cmd.MarkFlagRequired("file")
	return cmd
}

// revertCmd はマイグレーションの取り消しコマンド。
func revertCmd() *cobra.Command {
	var fileName, folderName string
	var async bool
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert a specific migration file on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileName == "" {
				return fmt.Errorf("--file is required")
			}
			req := map[string]any{
				"migration_file_name":   fileName,
				"migration_folder_name": folderName,
				"async":                 async,
			}
			want := http.StatusOK
			if async {
				want = http.StatusAccepted
			}
			body, err := callAPI(http.MethodPost, "/v1/migrations/revert", req, want)
			if err != nil {
				return err
			}
			return printMigrationResponse(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&fileName, "file", "", "Migration file name (required)")
	cmd.Flags().StringVar(&folderName, "folder", "", "Migration folder name (defaults to the server setting)")
	cmd.Flags().BoolVar(&async, "async", false, "Return immediately and revert in the background")
	cmd.MarkFlagRequired("file")
	return cmd
}

// statusCmd はマイグレーション状況の取得コマンド。
func statusCmd() *cobra.Command {
	var folderName string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/migrations/status"
			if folderName != "" {
				path += "?" + url.Values{"folder": {folderName}}.Encode()
			}
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				fmt.Fprintln(out, string(body))
				return nil
			}

			var result struct {
				DirectoryKey string `json:"dir_key"`
				Watermark    *int64 `json:"watermark"`
				Migrations   []struct {
					FileName  string `json:"file_name"`
					Status    string `json:"status"`
					AppliedAt string `json:"applied_at"`
				} `json:"migrations"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			rows := make([]statusRow, len(result.Migrations))
			for i, m := range result.Migrations {
				rows[i] = statusRow{FileName: m.FileName, Status: m.Status, AppliedAt: m.AppliedAt}
			}
			return printStatus(out, result.DirectoryKey, result.Watermark, rows)
		},
	}
	cmd.Flags().StringVar(&folderName, "folder", "", "Migration folder name (defaults to the server setting)")
	return cmd
}

// callAPI はAPIを呼び出し、wantStatus以外のステータスはエラーとして返す。
func callAPI(method, path string, payload any, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set MIGRATECTL_API_URL)")
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, strings.TrimRight(apiURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func printMigrationResponse(out io.Writer, body []byte) error {
	if output == "json" {
		fmt.Fprintln(out, string(body))
		return nil
	}

	var result migrationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Fprintf(out, "%s: %s\n", result.Msg, result.Description)
	if result.Data != nil {
		for _, item := range result.Data.Items {
			if item.Error != "" {
				fmt.Fprintf(out, "  %-50s %-10s %s\n", item.FileName, item.Outcome, item.Error)
			} else {
				fmt.Fprintf(out, "  %-50s %s\n", item.FileName, item.Outcome)
			}
		}
	}
	return nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil {
		if errResp.Message != "" {
			return fmt.Errorf("Error: %s", errResp.Message)
		}
		if errResp.Description != "" {
			return fmt.Errorf("Error: %s", errResp.Description)
		}
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
