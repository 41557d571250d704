package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/theme"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Register and inspect mail accounts",
}

// accountInput collects the add flags or the form answers.
type accountInput struct {
	id          string
	address     string
	domain      string
	host        string
	port        int
	credRef     string
	providerIDs bool
	job         string
	usage       string
	interests   string
}

var accountAddFlags accountInput

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an account; prompts for the details when --address is omitted",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := &accountAddFlags
		if f.address == "" {
			if err := accountForm(f).Run(); err != nil {
				return err
			}
		}

		acc := model.Account{
			ID:            f.id,
			Address:       strings.TrimSpace(f.address),
			Domain:        strings.TrimSpace(f.domain),
			Host:          f.host,
			Port:          f.port,
			CredentialRef: f.credRef,
			Valid:         true,
			ProviderIDs:   f.providerIDs,
			Job:           f.job,
			Usage:         f.usage,
			Interests:     splitList(f.interests),
		}
		if acc.ID == "" {
			acc.ID = uuid.New().String()
		}
		if _, err := mailbox.ResolveServer(acc); err != nil {
			return err
		}

		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.UpsertAccount(cmd.Context(), acc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s saved as %s\n", acc.Address, acc.ID)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		accounts, err := a.store.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), theme.HelpStyle.Render("no accounts registered"))
			return nil
		}
		for _, acc := range accounts {
			fmt.Fprintln(cmd.OutOrStdout(), accountLine(acc))
		}
		return nil
	},
}

func newValidityCmd(use string, valid bool) *cobra.Command {
	short := "Mark an account's credentials as unusable"
	if valid {
		short = "Mark an account as usable again"
	}
	return &cobra.Command{
		Use:   use + " <account-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(resolvedConfigPath())
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.SetAccountValidity(cmd.Context(), args[0], valid)
		},
	}
}

func init() {
	f := accountAddCmd.Flags()
	f.StringVar(&accountAddFlags.id, "id", "", "account id (generated when empty)")
	f.StringVar(&accountAddFlags.address, "address", "", "mailbox address and IMAP login")
	f.StringVar(&accountAddFlags.domain, "domain", "", "provider key such as gmail or naver")
	f.StringVar(&accountAddFlags.host, "host", "", "IMAP host override")
	f.IntVar(&accountAddFlags.port, "port", 0, "IMAP port override")
	f.StringVar(&accountAddFlags.credRef, "credential-ref", "", "keyring key or sealed record of the app password")
	f.BoolVar(&accountAddFlags.providerIDs, "provider-ids", false, "deduplicate on provider message ids")
	f.StringVar(&accountAddFlags.job, "job", "", "classification profile: job")
	f.StringVar(&accountAddFlags.usage, "usage", "", "classification profile: what the mailbox is used for")
	f.StringVar(&accountAddFlags.interests, "interests", "", "classification profile: comma separated interests")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(newValidityCmd("validate", true))
	accountCmd.AddCommand(newValidityCmd("invalidate", false))
}

func accountForm(f *accountInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Address").
				Description("Mailbox address, also the IMAP login").
				Placeholder("me@gmail.com").
				Value(&f.address).
				Validate(validateRequired("Address")),
			huh.NewSelect[string]().
				Title("Provider").
				Options(
					huh.NewOption("Gmail", "gmail"),
					huh.NewOption("Outlook / Office 365", "outlook"),
					huh.NewOption("Naver", "naver"),
					huh.NewOption("Daum", "daum"),
					huh.NewOption("Kakao", "kakao"),
					huh.NewOption("Yahoo", "yahoo"),
					huh.NewOption("iCloud", "icloud"),
				).
				Value(&f.domain),
			huh.NewInput().
				Title("Credential reference").
				Description("Keyring key set with `mailsync credential set`").
				Value(&f.credRef).
				Validate(validateRequired("Credential reference")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Job").
				Value(&f.job),
			huh.NewInput().
				Title("Usage").
				Description("What the mailbox is used for").
				Value(&f.usage),
			huh.NewInput().
				Title("Interests").
				Description("Comma separated").
				Value(&f.interests),
		),
	)
}

func accountLine(acc model.Account) string {
	valid := theme.StateStyle("idle").Render("valid")
	if !acc.Valid {
		valid = theme.StateStyle("failed").Render("invalid")
	}
	checkpoint := "never synced"
	if acc.LastCheckpoint != nil {
		checkpoint = "checkpoint " + acc.LastCheckpoint.Local().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s %s %s %s",
		theme.LabelStyle.Width(38).Render(acc.ID),
		acc.Address,
		valid,
		theme.HelpStyle.Render(checkpoint))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
