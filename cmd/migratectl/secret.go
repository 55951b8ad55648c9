package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"migration-service/config"
	"migration-service/internal/infra"
)

// newSecretCmd はアーカイブ用シークレットをKMSで暗号化するコマンド。
func newSecretCmd() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted secrets",
	}

	encryptCmd := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a secret with KMS_KEY_NAME",
		Long:  "Encrypt a secret and print base64 ciphertext for ARCHIVE_SECRET_KEY_CIPHERTEXT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.KMSKeyName == "" {
				return fmt.Errorf("KMS_KEY_NAME is not set")
			}

			ctx := cmd.Context()
			kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
			if err != nil {
				return fmt.Errorf("failed to init KMS client: %w", err)
			}
			defer kmsClient.Close()

			ciphertext, err := infra.EncryptSecret(ctx, kmsClient, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
			return nil
		},
	}

	secretCmd.AddCommand(encryptCmd)
	return secretCmd
}
