// Package sync runs the mail synchronization pipeline for one account at a
// time and schedules runs across accounts.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/attachment"
	"github.com/ajy121650/mailer-back/internal/classify"
	"github.com/ajy121650/mailer-back/internal/credential"
	"github.com/ajy121650/mailer-back/internal/dedup"
	"github.com/ajy121650/mailer-back/internal/events"
	"github.com/ajy121650/mailer-back/internal/logging"
	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/normalize"
	"github.com/ajy121650/mailer-back/internal/store"
)

// ErrSessionTimeout is returned when the session deadline fires before the
// window was fetched.
var ErrSessionTimeout = errors.New("session deadline exceeded")

// BatchClassifier labels a whole window in one call. classify.Gateway is
// the production implementation.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, items []classify.Item, profile classify.Profile) (map[string]classify.Label, error)
}

// Recorder receives run outcomes. metrics.Sync implements it.
type Recorder interface {
	RunFinished(outcome string, d time.Duration, ingested, skipped, errored int)
	EntryReclassified(label string)
}

// Options tunes the orchestrator.
type Options struct {
	Folder       string
	Lookback     time.Duration
	SafetyMargin time.Duration
	BatchSize    int

	// SessionTimeout bounds the time a run may hold its IMAP session.
	SessionTimeout time.Duration
	MaxBodyChars   int

	Logger    *zap.Logger
	Publisher events.Publisher
	Recorder  Recorder

	// OnState observes every state transition.
	OnState func(accountID string, s State)

	// Now defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the sync config section onto Options.
func OptionsFromConfig(cfg model.SyncConfig) Options {
	return Options{
		Folder:         cfg.Folder,
		Lookback:       cfg.Lookback,
		SafetyMargin:   cfg.SafetyMargin,
		BatchSize:      cfg.BatchSize,
		SessionTimeout: cfg.SessionTimeout,
		MaxBodyChars:   cfg.MaxBodyChars,
	}
}

// Orchestrator runs the pipeline for one account at a time. It is safe for
// concurrent use by several workers, each syncing a different account.
type Orchestrator struct {
	store      store.Store
	opener     mailbox.Opener
	creds      credential.Provider
	classifier BatchClassifier
	sink       attachment.Sink
	index      *dedup.Index
	opts       Options
	logger     *zap.Logger
}

// NewOrchestrator wires the pipeline's collaborators.
func NewOrchestrator(
	s store.Store,
	opener mailbox.Opener,
	creds credential.Provider,
	classifier BatchClassifier,
	sink attachment.Sink,
	opts Options,
) *Orchestrator {
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxBodyChars <= 0 {
		opts.MaxBodyChars = 4000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		store:      s,
		opener:     opener,
		creds:      creds,
		classifier: classifier,
		sink:       sink,
		index:      dedup.NewIndex(s),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// pending is a fetched, normalized message waiting for its label.
type pending struct {
	corrID      string
	handle      mailbox.Handle
	dedupKey    string
	fingerprint string
	msg         *normalize.Message
	attachments []model.Attachment
}

// run carries the state of one Sync call.
type run struct {
	o      *Orchestrator
	acc    model.Account
	logger *zap.Logger
	result *Result
}

func (r *run) enter(s State) {
	if r.o.opts.OnState != nil {
		r.o.opts.OnState(r.acc.ID, s)
	}
}

func (r *run) messageError(h mailbox.Handle, stage Stage, err error) {
	r.result.Errors = append(r.result.Errors, MessageError{
		UID:       h.UID,
		MessageID: h.MessageID,
		Stage:     stage,
		Err:       err,
	})
	r.logger.Warn("skipping message",
		zap.Uint32("uid", h.UID),
		zap.String("message_id", h.MessageID),
		zap.String("stage", string(stage)),
		zap.Error(err))
}

// fail ends the run without advancing the checkpoint.
func (r *run) fail(err error) (*Result, error) {
	r.result.Reason = err.Error()
	r.enter(StateFailed)
	r.logger.Error("sync run failed", zap.Error(err))
	r.enter(StateIdle)
	r.finish("failed")
	return r.result, fmt.Errorf("sync account %s: %w", r.acc.ID, err)
}

func (r *run) finish(outcome string) {
	r.result.Duration = r.o.opts.Now().Sub(r.result.StartedAt)
	if r.o.opts.Recorder != nil {
		r.o.opts.Recorder.RunFinished(outcome, r.result.Duration,
			r.result.Ingested, len(r.result.Skipped), len(r.result.Errors))
	}
}

// Sync runs one incremental window for acc. A non-nil error means the run
// failed before completing its window: the session could not be opened or
// broke, the session deadline fired, or ctx was cancelled. Per-message
// problems are reported in the Result instead.
func (o *Orchestrator) Sync(ctx context.Context, acc model.Account) (*Result, error) {
	start := o.opts.Now().UTC()
	r := &run{
		o:      o,
		acc:    acc,
		logger: logging.ForAccount(o.logger, acc),
		result: &Result{AccountID: acc.ID, StartedAt: start},
	}

	sessCtx := ctx
	if o.opts.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sessCtx, cancel = context.WithTimeout(ctx, o.opts.SessionTimeout)
		defer cancel()
	}

	r.enter(StateConnecting)
	sess, err := o.connect(sessCtx, acc)
	if err != nil {
		return r.fail(sessionErr(ctx, sessCtx, err))
	}
	defer sess.Close()

	r.enter(StateWindowSelection)
	since := o.windowStart(acc, start)
	r.result.WindowStart = since
	handles, err := sess.SearchSince(sessCtx, since, o.opts.BatchSize)
	if err != nil {
		return r.fail(sessionErr(ctx, sessCtx, err))
	}
	handles = newest(handles, o.opts.BatchSize)
	r.result.Candidates = len(handles)
	r.logger.Debug("window selected", zap.Time("since", since), zap.Int("candidates", len(handles)))

	batch, err := r.fetchWindow(ctx, sessCtx, sess, handles)
	if err != nil {
		r.discard(batch)
		return r.fail(err)
	}
	_ = sess.Close()

	if len(batch) > 0 {
		r.enter(StateClassifying)
		labels := r.classify(ctx, batch)

		r.enter(StatePersisting)
		if err := r.persist(ctx, batch, labels); err != nil {
			return r.fail(err)
		}
	}

	r.enter(StateCheckpointing)
	if err := o.store.AdvanceCheckpoint(ctx, acc.ID, start); err != nil {
		if !errors.Is(err, store.ErrStaleCheckpoint) {
			r.result.Errors = append(r.result.Errors, MessageError{Stage: StageCheckpoint, Err: err})
			r.logger.Error("advancing checkpoint", zap.Error(err))
			r.enter(StateIdle)
			r.finish("ok")
			return r.result, nil
		}
		r.logger.Info("checkpoint already ahead of this run", zap.Time("run_start", start))
	} else {
		cp := start
		r.result.Checkpoint = &cp
	}

	r.enter(StateIdle)
	r.finish("ok")
	r.logger.Info("sync run complete",
		zap.Int("candidates", r.result.Candidates),
		zap.Int("known", r.result.Known),
		zap.Int("ingested", r.result.Ingested),
		zap.Int("skipped", len(r.result.Skipped)),
		zap.Int("errors", len(r.result.Errors)))
	return r.result, nil
}

func (o *Orchestrator) connect(ctx context.Context, acc model.Account) (mailbox.Session, error) {
	creds, err := o.creds.Credentials(ctx, acc)
	if err != nil {
		return nil, &mailbox.AuthError{Username: acc.Address, Err: err}
	}

	sess, err := o.opener.Open(ctx, acc, creds)
	if err != nil {
		return nil, err
	}
	if err := sess.SelectFolder(ctx, o.opts.Folder); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

// windowStart is max(checkpoint, now-lookback) minus the safety margin.
func (o *Orchestrator) windowStart(acc model.Account, now time.Time) time.Time {
	lower := now.Add(-o.opts.Lookback)
	if acc.LastCheckpoint != nil && acc.LastCheckpoint.After(lower) {
		lower = *acc.LastCheckpoint
	}
	return lower.Add(-o.opts.SafetyMargin).UTC()
}

// newest keeps the limit handles with the highest UIDs, in UID order.
func newest(handles []mailbox.Handle, limit int) []mailbox.Handle {
	sort.SliceStable(handles, func(i, j int) bool { return handles[i].UID < handles[j].UID })
	if limit > 0 && len(handles) > limit {
		handles = handles[len(handles)-limit:]
	}
	return handles
}

// sessionErr maps a failure during the session phase onto the reason the
// run stopped.
func sessionErr(ctx, sessCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(sessCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSessionTimeout, err)
	}
	return err
}

// fetchWindow fetches and normalizes every new candidate and writes its
// attachments. It returns what was gathered so far together with any
// run-level error.
func (r *run) fetchWindow(
	ctx, sessCtx context.Context,
	sess mailbox.Session,
	handles []mailbox.Handle,
) ([]*pending, error) {
	var batch []*pending

	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if errors.Is(sessCtx.Err(), context.DeadlineExceeded) {
			return batch, ErrSessionTimeout
		}

		key := dedup.KeyFor(r.acc, h.ProviderID, h.MessageID)
		if known, err := r.o.index.Exists(ctx, r.acc, key); err != nil {
			return batch, fmt.Errorf("checking %s: %w", key, err)
		} else if known {
			r.result.Known++
			continue
		}

		r.enter(StateFetching)
		raw, err := sess.FetchRaw(sessCtx, h)
		if err != nil {
			if mailbox.IsBrokenSession(err) || sessCtx.Err() != nil {
				return batch, sessionErr(ctx, sessCtx, err)
			}
			r.messageError(h, StageFetch, err)
			continue
		}

		r.enter(StateNormalizing)
		msg, err := normalize.Parse(raw)
		if err != nil {
			r.messageError(h, StageParse, err)
			continue
		}

		if key == "" {
			key = dedup.KeyFor(r.acc, h.ProviderID, msg.MessageID)
			if key == "" {
				key = dedup.ContentKey(raw)
			}
			if known, err := r.o.index.Exists(ctx, r.acc, key); err != nil {
				return batch, fmt.Errorf("checking %s: %w", key, err)
			} else if known {
				r.result.Known++
				continue
			}
		}

		stored, err := r.storeAttachments(ctx, msg)
		if err != nil {
			r.messageError(h, StageStorage, err)
			continue
		}

		batch = append(batch, &pending{
			corrID:      strconv.Itoa(len(batch)),
			handle:      h,
			dedupKey:    key,
			fingerprint: dedup.Fingerprint(msg),
			msg:         msg,
			attachments: stored,
		})
	}

	return batch, nil
}

// storeAttachments writes every attachment of msg to the sink. On failure
// the payloads already written for msg are removed.
func (r *run) storeAttachments(ctx context.Context, msg *normalize.Message) ([]model.Attachment, error) {
	stored := make([]model.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		p, err := r.o.sink.Store(ctx, a.Filename, a.Content)
		if err != nil {
			r.deletePayloads(stored)
			if !attachment.IsStorageError(err) {
				err = &attachment.StorageError{Filename: a.Filename, Err: err}
			}
			return nil, err
		}
		stored = append(stored, model.Attachment{
			Filename:    a.Filename,
			MIMEType:    a.MIMEType,
			Size:        int64(len(a.Content)),
			StoragePath: p,
		})
	}
	return stored, nil
}

func (r *run) deletePayloads(atts []model.Attachment) {
	for _, a := range atts {
		// Cleanup must survive a cancelled run.
		if err := r.o.sink.Delete(context.Background(), a.StoragePath); err != nil {
			r.logger.Warn("removing attachment payload", zap.String("path", a.StoragePath), zap.Error(err))
		}
	}
}

func (r *run) discard(batch []*pending) {
	for _, p := range batch {
		r.deletePayloads(p.attachments)
	}
}

// classify labels the whole window in one call. On failure every message
// falls back to the inbox.
func (r *run) classify(ctx context.Context, batch []*pending) map[string]classify.Label {
	items := make([]classify.Item, 0, len(batch))
	for _, p := range batch {
		items = append(items, classify.Item{
			ID:      p.corrID,
			Subject: p.msg.Subject,
			Body:    p.msg.Excerpt(r.o.opts.MaxBodyChars),
		})
	}

	labels, err := r.o.classifier.ClassifyBatch(ctx, items, profileOf(r.acc))
	if err != nil {
		r.result.ClassifierErr = err
		r.logger.Warn("classification failed, filing window in inbox",
			zap.Int("items", len(items)), zap.Error(err))
		return map[string]classify.Label{}
	}
	return labels
}

func profileOf(acc model.Account) classify.Profile {
	return classify.Profile{Job: acc.Job, Usage: acc.Usage, Interests: acc.Interests}
}

// placement maps a label onto the entry's folder and spam flag.
func placement(label classify.Label) (model.Folder, bool) {
	switch label {
	case classify.LabelSpam:
		return model.FolderSpam, true
	case classify.LabelInbox:
		return model.FolderInbox, false
	default:
		return model.FolderInbox, false
	}
}

// receivedTime prefers the server's arrival time. The sender-controlled
// dates are a fallback for servers that do not report one.
func receivedTime(p *pending, now time.Time) time.Time {
	switch {
	case !p.handle.ReceivedAt.IsZero():
		return p.handle.ReceivedAt
	case !p.handle.Date.IsZero():
		return p.handle.Date
	case p.msg.Date != nil:
		return *p.msg.Date
	default:
		return now
	}
}

// persist writes each message in its own transaction. Messages committed
// before a cancellation stay committed.
func (r *run) persist(ctx context.Context, batch []*pending, labels map[string]classify.Label) error {
	now := r.o.opts.Now().UTC()

	for i, p := range batch {
		if err := ctx.Err(); err != nil {
			r.discard(batch[i:])
			return err
		}

		_, labelled := labels[p.corrID]
		folder, spam := placement(classify.LabelOf(labels, p.corrID))

		receivedAt := receivedTime(p, now)

		in := store.Ingest{
			Message: model.Message{
				MessageID:     p.msg.MessageID,
				ProviderID:    p.handle.ProviderID,
				Fingerprint:   p.fingerprint,
				Subject:       p.msg.Subject,
				From:          p.msg.From,
				To:            p.msg.To,
				Cc:            p.msg.Cc,
				Bcc:           p.msg.Bcc,
				TextBody:      p.msg.TextBody,
				HTMLBody:      p.msg.HTMLBody,
				HasAttachment: p.msg.HasAttachment(),
				Date:          p.msg.Date,
			},
			Entry: model.MailboxEntry{
				AccountID:  r.acc.ID,
				DedupKey:   p.dedupKey,
				Folder:     folder,
				Read:       p.handle.Seen,
				Important:  p.handle.Flagged,
				Spam:       spam,
				Classified: labelled,
				ReceivedAt: receivedAt,
				SyncedAt:   now,
			},
			Attachments: p.attachments,
		}

		res, err := r.o.store.IngestMessage(ctx, in)
		switch {
		case errors.Is(err, store.ErrConflict):
			r.deletePayloads(p.attachments)
			r.result.Skipped = append(r.result.Skipped, Skip{
				UID: p.handle.UID, DedupKey: p.dedupKey, Reason: "already ingested",
			})
			r.logger.Debug("entry already exists", zap.Uint32("uid", p.handle.UID), zap.String("dedup_key", p.dedupKey))
			continue
		case err != nil:
			r.deletePayloads(p.attachments)
			r.messageError(p.handle, StagePersist, err)
			continue
		}

		if res.Shared {
			r.deletePayloads(p.attachments)
		}
		r.result.Ingested++

		ev := events.EntryIngested{
			AccountID:  r.acc.ID,
			EntryID:    res.EntryID,
			MessageID:  res.MessageID,
			Subject:    p.msg.Subject,
			Folder:     string(folder),
			Spam:       spam,
			ReceivedAt: receivedAt,
		}
		if err := r.o.opts.Publisher.PublishIngested(ctx, ev); err != nil {
			r.logger.Warn("publishing ingest event", zap.String("entry_id", res.EntryID), zap.Error(err))
		}
	}

	return nil
}
