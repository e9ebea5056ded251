package main

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/config"
	"github.com/langchou/fleetgazer/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := repository.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Database migrated successfully")
		return nil
	},
}

var (
	signAccountID int64
	signUserID    int64
	signSecret    string
	signPassword  string
	signTime      int64
)

// signCmd 按供应商签名规则输出请求体，用于排查签名不一致
var signCmd = &cobra.Command{
	Use:   "sign <action>",
	Short: "Print a signed vendor request payload for debugging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		secret := signSecret
		if signPassword != "" {
			secret = vendor.DeriveSecret(cfg.VendorPasswordKey, signPassword)
		}
		if secret == "" {
			return fmt.Errorf("either --secret or --password is required")
		}

		now := time.Now()
		if signTime > 0 {
			now = time.UnixMilli(signTime)
		}

		params := vendor.BaseParams(args[0], cfg.VendorAPIVersion, signAccountID, signUserID, now)
		payload := vendor.SignedPayload(secret, params)

		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "canonical: %s\n", vendor.CanonicalString(params))
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
		return nil
	},
}

func init() {
	signCmd.Flags().Int64Var(&signAccountID, "account-id", 0, "vendor accountId")
	signCmd.Flags().Int64Var(&signUserID, "user-id", 0, "vendor userId")
	signCmd.Flags().StringVar(&signSecret, "secret", "", "signing key (session token or derived password secret)")
	signCmd.Flags().StringVar(&signPassword, "password", "", "plain password, derived with VENDOR_PASSWORD_KEY")
	signCmd.Flags().Int64Var(&signTime, "time-ms", 0, "request time in unix milliseconds (default now)")
	signCmd.MarkFlagsMutuallyExclusive("secret", "password")
}
