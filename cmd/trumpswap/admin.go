package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pizzacorruption/trumpswap-sub001/adapters/sqlite"
	"github.com/pizzacorruption/trumpswap-sub001/config"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator utilities",
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Generate the bcrypt hash for admin.password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(hash))
		return nil
	},
}

var grantCreditsCmd = &cobra.Command{
	Use:   "grant-credits <user-id> <amount>",
	Short: "Add credits to a user's balance",
	Long: `Add credits to a user's balance directly.

This is the manual counterpart of the payment reconciliation path; use it
to resolve support cases or to seed accounts in staging.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var amount int64
		if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil || amount <= 0 {
			return fmt.Errorf("amount must be a positive integer")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		balance, err := sqlite.NewProfileStore(db).AddCredits(context.Background(), args[0], amount)
		if err != nil {
			return err
		}
		fmt.Printf("user %s balance is now %d credits\n", args[0], balance)
		return nil
	},
}

func init() {
	adminCmd.AddCommand(hashPasswordCmd)
	adminCmd.AddCommand(grantCreditsCmd)
	rootCmd.AddCommand(adminCmd)
}
