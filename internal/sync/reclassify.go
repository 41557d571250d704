package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/classify"
	"github.com/ajy121650/mailer-back/internal/logging"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/normalize"
)

// Reclassify offers the account's live inbox entries that were filed by
// the fail-open default to the classifier again. Each update is skipped
// when the entry was moved or classified in the meantime. A classifier
// failure leaves every entry untouched.
func (o *Orchestrator) Reclassify(ctx context.Context, acc model.Account) (*ReclassifyResult, error) {
	logger := logging.ForAccount(o.logger, acc)
	res := &ReclassifyResult{AccountID: acc.ID}

	entries, err := o.store.UnclassifiedEntries(ctx, acc.ID, o.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("listing unclassified entries: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}
	res.Checked = len(entries)

	items := make([]classify.Item, 0, len(entries))
	for _, d := range entries {
		body := &normalize.Message{TextBody: d.Message.TextBody, HTMLBody: d.Message.HTMLBody}
		items = append(items, classify.Item{
			ID:      d.Entry.ID,
			Subject: d.Message.Subject,
			Body:    body.Excerpt(o.opts.MaxBodyChars),
		})
	}

	labels, err := o.classifier.ClassifyBatch(ctx, items, profileOf(acc))
	if err != nil {
		return res, fmt.Errorf("reclassifying %d entries: %w", len(items), err)
	}

	for _, d := range entries {
		label := classify.LabelOf(labels, d.Entry.ID)
		folder, spam := placement(label)

		applied, err := o.store.ApplyClassification(ctx, d.Entry.ID, folder, spam)
		if err != nil {
			return res, fmt.Errorf("applying label to entry %s: %w", d.Entry.ID, err)
		}
		if !applied {
			res.Raced++
			continue
		}

		switch folder {
		case model.FolderSpam:
			res.Spam++
		case model.FolderInbox, model.FolderSent, model.FolderStarred, model.FolderTrash:
			res.Inbox++
		}
		if o.opts.Recorder != nil {
			o.opts.Recorder.EntryReclassified(string(label))
		}
	}

	logger.Info("reclassify pass complete",
		zap.Int("checked", res.Checked),
		zap.Int("spam", res.Spam),
		zap.Int("inbox", res.Inbox),
		zap.Int("raced", res.Raced))
	return res, nil
}
