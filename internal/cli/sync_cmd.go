package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Run one sync window for an account and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.seedAccounts(ctx); err != nil {
			return err
		}

		acc, err := a.store.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		if !acc.Valid {
			return fmt.Errorf("account %s is marked invalid; fix its credentials and run `mailsync account validate %s`", acc.ID, acc.ID)
		}

		orch, err := a.orchestrator(nil)
		if err != nil {
			return err
		}

		res, runErr := orch.Sync(ctx, *acc)
		if res != nil {
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(acc.Address, res))
		}
		if runErr != nil {
			return runErr
		}

		if res.ClassifierErr == nil {
			rr, err := orch.Reclassify(ctx, *acc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReclassify(rr))
		}
		return nil
	},
}
