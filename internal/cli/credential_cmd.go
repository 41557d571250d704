package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ajy121650/mailer-back/internal/credential"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage IMAP app passwords and the classifier key",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <ref>",
	Short: "Store a secret under a credential reference",
	Long: `Prompts for a secret and stores it in the keyring under <ref>.

With the sealed backend nothing is stored; the sealed record is printed
so it can be used as the account's credential_ref.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		secret, err := promptSecret(args[0])
		if err != nil {
			return err
		}

		if a.ring == nil {
			record, err := credential.Seal(secret, a.sealKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), record)
			return nil
		}

		if err := a.ring.Set(args[0], secret); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
		return nil
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Remove a secret from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		if a.ring == nil {
			return errors.New("the sealed backend keeps no secrets to delete")
		}
		if err := a.ring.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)
}

func promptSecret(ref string) (string, error) {
	var secret string
	err := huh.NewInput().
		Title("Secret for " + ref).
		Description("App password or API key; input is hidden").
		EchoMode(huh.EchoModePassword).
		Value(&secret).
		Validate(validateRequired("Secret")).
		Run()
	if err != nil {
		return "", err
	}
	return secret, nil
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
