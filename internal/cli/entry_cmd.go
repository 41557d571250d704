package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ajy121650/mailer-back/internal/attachment"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/store"
	"github.com/ajy121650/mailer-back/internal/theme"
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Browse and manage synced mailbox entries",
}

// payloads is the part of the attachment sink the entry commands use.
type payloads interface {
	Open(storagePath string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
}

func (a *app) payloads() *attachment.FileSink {
	return attachment.NewOsFileSink(a.cfg.Storage.AttachmentDir)
}

type entryListInput struct {
	folder string
	unread bool
	trash  bool
	query  string
	limit  int
}

var entryListFlags entryListInput

var entryListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "List an account's entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := entryFilter(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.store.ListEntries(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), theme.HelpStyle.Render("no entries"))
			return nil
		}
		for _, d := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), entryLine(d))
		}
		return nil
	},
}

func entryFilter(accountID string) (store.EntryFilter, error) {
	f := entryListFlags
	filter := store.EntryFilter{AccountID: accountID, Deleted: f.trash, Limit: f.limit}
	if f.folder != "" {
		folder, err := model.ParseFolder(f.folder)
		if err != nil {
			return filter, err
		}
		filter.Folder = &folder
	}
	if f.unread {
		unread := false
		filter.Read = &unread
	}
	if q := strings.TrimSpace(f.query); q != "" {
		filter.Query = &q
	}
	return filter, nil
}

var entryReadCmd = &cobra.Command{
	Use:   "read <entry-id>",
	Short: "Show an entry and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		return readEntry(cmd.Context(), a.store, cmd.OutOrStdout(), args[0])
	},
}

// readEntry prints the entry with its message and attachments, then marks
// it read.
func readEntry(ctx context.Context, st store.Store, w io.Writer, id string) error {
	d, err := st.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	msg, err := st.GetMessage(ctx, d.Entry.MessageRef)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, renderEntry(d.Entry, msg))

	if d.Entry.Read {
		return nil
	}
	read := true
	return st.SetEntryFlags(ctx, id, store.EntryFlags{Read: &read})
}

func newPinCmd(use string, pinned bool) *cobra.Command {
	short := "Unpin an entry"
	if pinned {
		short = "Pin an entry to the top of its folder"
	}
	return &cobra.Command{
		Use:   use + " <entry-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(resolvedConfigPath())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.SetEntryFlags(cmd.Context(), args[0], store.EntryFlags{Pinned: &pinned}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry %s %sned\n", args[0], use)
			return nil
		},
	}
}

var entryMoveCmd = &cobra.Command{
	Use:   "move <entry-id> <folder>",
	Short: "Move an entry to another folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := model.ParseFolder(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.MoveEntry(cmd.Context(), args[0], folder); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s moved to %s\n", args[0], theme.FolderStyle(string(folder)).Render(string(folder)))
		return nil
	},
}

var entryTrashCmd = &cobra.Command{
	Use:   "trash <entry-id>",
	Short: "Soft-delete an entry; restore brings it back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.SoftDeleteEntry(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s trashed\n", args[0])
		return nil
	},
}

var entryRestoreCmd = &cobra.Command{
	Use:   "restore <entry-id>",
	Short: "Restore a soft-deleted entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.RestoreEntry(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s restored\n", args[0])
		return nil
	},
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Permanently delete an entry and any content no other account shares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := deleteEntry(cmd.Context(), a.store, a.payloads(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s deleted, %d attachment files removed\n", args[0], removed)
		return nil
	},
}

// deleteEntry removes the entry and then the payload files of attachment
// rows that went with it. The rows are gone before the files, so a failed
// file removal leaves an orphaned file rather than a dangling row.
func deleteEntry(ctx context.Context, st store.Store, sink payloads, id string) (int, error) {
	paths, err := st.DeleteEntry(ctx, id)
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, p := range paths {
		if err := sink.Delete(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

var entrySaveFlags struct {
	out string
}

var entrySaveCmd = &cobra.Command{
	Use:   "save <entry-id> <filename>",
	Short: "Write an attachment of an entry to a file or stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		content, err := attachmentContent(cmd.Context(), a.store, a.payloads(), args[0], args[1])
		if err != nil {
			return err
		}
		if entrySaveFlags.out == "" {
			_, err = cmd.OutOrStdout().Write(content)
			return err
		}
		return os.WriteFile(entrySaveFlags.out, content, 0o644)
	},
}

// attachmentContent reads the payload of the entry's attachment named
// filename.
func attachmentContent(ctx context.Context, st store.Store, sink payloads, id, filename string) ([]byte, error) {
	d, err := st.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	msg, err := st.GetMessage(ctx, d.Entry.MessageRef)
	if err != nil {
		return nil, err
	}
	for _, att := range msg.Attachments {
		if att.Filename == filename {
			return sink.Open(att.StoragePath)
		}
	}
	return nil, fmt.Errorf("entry %s has no attachment %q: %w", id, filename, store.ErrNotFound)
}

func entryLine(d store.EntryDetail) string {
	marker := " "
	switch {
	case d.Entry.Pinned:
		marker = "*"
	case !d.Entry.Read:
		marker = "•"
	}
	folder := string(d.Entry.Folder)
	return fmt.Sprintf("%s %s %s %s %s",
		marker,
		theme.LabelStyle.Width(38).Render(d.Entry.ID),
		theme.FolderStyle(folder).Width(8).Render(folder),
		theme.HelpStyle.Render(d.Entry.ReceivedAt.Local().Format("2006-01-02 15:04")),
		d.Message.Subject)
}

func renderEntry(e model.MailboxEntry, msg *model.Message) string {
	rows := []string{
		row("From", msg.From),
		row("To", strings.Join(msg.To, ", ")),
	}
	if len(msg.Cc) > 0 {
		rows = append(rows, row("Cc", strings.Join(msg.Cc, ", ")))
	}
	rows = append(rows,
		row("Folder", theme.FolderStyle(string(e.Folder)).Render(string(e.Folder))),
		row("Received", e.ReceivedAt.Local().Format("2006-01-02 15:04:05")),
	)
	if e.Summary != nil {
		rows = append(rows, row("Summary", *e.Summary))
	}
	for _, att := range msg.Attachments {
		rows = append(rows, row("Attachment", fmt.Sprintf("%s (%s, %d bytes)", att.Filename, att.MIMEType, att.Size)))
	}

	body := theme.HelpStyle.Render("no text body")
	if msg.TextBody != nil {
		body = *msg.TextBody
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		theme.HeaderStyle.Render(msg.Subject),
		theme.PanelStyle.Render(strings.Join(rows, "\n")),
		body,
	)
}

func init() {
	f := entryListCmd.Flags()
	f.StringVar(&entryListFlags.folder, "folder", "", "only entries in this folder")
	f.BoolVar(&entryListFlags.unread, "unread", false, "only unread entries")
	f.BoolVar(&entryListFlags.trash, "trash", false, "list soft-deleted entries instead")
	f.StringVar(&entryListFlags.query, "query", "", "search subject and sender")
	f.IntVar(&entryListFlags.limit, "limit", 50, "maximum entries to list")

	entrySaveCmd.Flags().StringVarP(&entrySaveFlags.out, "out", "o", "", "output file (stdout when empty)")

	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryReadCmd)
	entryCmd.AddCommand(newPinCmd("pin", true))
	entryCmd.AddCommand(newPinCmd("unpin", false))
	entryCmd.AddCommand(entryMoveCmd)
	entryCmd.AddCommand(entryTrashCmd)
	entryCmd.AddCommand(entryRestoreCmd)
	entryCmd.AddCommand(entryDeleteCmd)
	entryCmd.AddCommand(entrySaveCmd)
}
