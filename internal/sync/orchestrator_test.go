package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajy121650/mailer-back/internal/attachment"
	"github.com/ajy121650/mailer-back/internal/classify"
	"github.com/ajy121650/mailer-back/internal/credential"
	"github.com/ajy121650/mailer-back/internal/events"
	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/model"
	"github.com/ajy121650/mailer-back/internal/store"
	"github.com/ajy121650/mailer-back/tests/testutil"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	store      *store.SQLStore
	session    *fakeSession
	opener     *fakeOpener
	classifier *labelBySubject
	fs         afero.Fs
	sink       attachment.Sink
	recorder   *recorder
	states     []State
	now        time.Time
	opts       Options
}

func newHarness(t *testing.T, messages ...remote) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	sess := &fakeSession{messages: messages}
	h := &harness{
		store:      testutil.NewTestStore(t),
		session:    sess,
		opener:     &fakeOpener{session: sess},
		classifier: &labelBySubject{labels: map[string]string{}},
		fs:         fs,
		sink:       attachment.NewFileSink(fs, "att"),
		recorder:   &recorder{},
		now:        baseTime,
	}
	h.opts = Options{
		Lookback:     30 * 24 * time.Hour,
		SafetyMargin: 24 * time.Hour,
		BatchSize:    50,
		Recorder:     h.recorder,
	}
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	opts := h.opts
	opts.Now = func() time.Time { return h.now }
	opts.OnState = func(_ string, s State) { h.states = append(h.states, s) }
	return NewOrchestrator(h.store, h.opener, staticCreds(), gateway(h.classifier), h.sink, opts)
}

func (h *harness) seed(t *testing.T, acc model.Account) model.Account {
	t.Helper()
	if acc.ID == "" {
		acc.ID = "acc-1"
	}
	acc.Valid = true
	return *testutil.SeedAccount(t, h.store, acc)
}

func (h *harness) entries(t *testing.T, accountID string) map[string]store.EntryDetail {
	t.Helper()
	list, err := h.store.ListEntries(context.Background(), store.EntryFilter{AccountID: accountID})
	require.NoError(t, err)
	out := make(map[string]store.EntryDetail, len(list))
	for _, d := range list {
		out[d.Message.Subject] = d
	}
	return out
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	infos, err := afero.ReadDir(h.fs, "att")
	if errors.Is(err, afero.ErrFileNotFound) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func (h *harness) checkpoint(t *testing.T, accountID string) *time.Time {
	t.Helper()
	acc, err := h.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return acc.LastCheckpoint
}

func TestOrchestrator_Sync_IngestsNewMessages(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "Quarterly report", baseTime.Add(-2*time.Hour), part{"report.pdf", "PDFDATA"}),
		remoteMail(2, "b@example.com", "Lunch?", baseTime.Add(-time.Hour)),
	)
	acc := h.seed(t, model.Account{Job: "analyst"})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.False(t, res.Failed())
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Ingested)
	assert.Empty(t, res.Errors)
	assert.Nil(t, res.ClassifierErr)
	require.NotNil(t, res.Checkpoint)
	assert.True(t, res.Checkpoint.Equal(baseTime))

	entries := h.entries(t, acc.ID)
	require.Len(t, entries, 2)
	report := entries["Quarterly report"]
	assert.Equal(t, model.FolderInbox, report.Entry.Folder)
	assert.True(t, report.Message.HasAttachment)
	assert.Equal(t, "mid:a@example.com", report.Entry.DedupKey)

	msg, err := h.store.GetMessage(context.Background(), report.Message.ID)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	content, err := afero.ReadFile(h.fs, msg.Attachments[0].StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "PDFDATA", string(content))

	assert.Equal(t, 1, h.classifier.calls)
	assert.Len(t, h.classifier.items, 2)
	assert.Equal(t, []string{"ok"}, h.recorder.outcomes)
	assert.GreaterOrEqual(t, h.session.closed, 1)

	assert.Equal(t, StateConnecting, h.states[0])
	assert.Equal(t, StateWindowSelection, h.states[1])
	assert.Contains(t, h.states, StateFetching)
	assert.Contains(t, h.states, StateNormalizing)
	assert.Contains(t, h.states, StateClassifying)
	assert.Contains(t, h.states, StatePersisting)
	assert.Equal(t, StateCheckpointing, h.states[len(h.states)-2])
	assert.Equal(t, StateIdle, h.states[len(h.states)-1])
}

func TestOrchestrator_Sync_IsIdempotent(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "One", baseTime.Add(-3*time.Hour)),
		remoteMail(2, "b@example.com", "Two", baseTime.Add(-2*time.Hour)),
	)
	acc := h.seed(t, model.Account{})
	o := h.orchestrator()

	first, err := o.Sync(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Ingested)

	acc = h.seed(t, acc)
	h.now = baseTime.Add(time.Minute)
	second, err := o.Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 0, second.Ingested)
	assert.Equal(t, 2, second.Known)
	assert.Empty(t, second.Skipped)
	assert.Len(t, h.entries(t, acc.ID), 2)
	assert.Equal(t, 1, h.classifier.calls)

	cp := h.checkpoint(t, acc.ID)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(h.now))
	assert.False(t, cp.Before(*first.Checkpoint))
}

func TestOrchestrator_Sync_WindowScenario(t *testing.T) {
	checkpoint := baseTime
	old := remoteMail(1, "old@example.com", "Old", checkpoint.Add(-48*time.Hour))
	h := newHarness(t,
		old,
		remoteMail(2, "new1@example.com", "New 1", checkpoint.Add(time.Hour)),
		remoteMail(3, "new2@example.com", "New 2", checkpoint.Add(2*time.Hour)),
	)
	acc := h.seed(t, model.Account{})

	_, err := h.store.IngestMessage(context.Background(), store.Ingest{
		Message: model.Message{MessageID: "old@example.com", Fingerprint: "old", Subject: "Old"},
		Entry: model.MailboxEntry{
			AccountID: acc.ID, DedupKey: "mid:old@example.com", Folder: model.FolderInbox,
			ReceivedAt: old.handle.Date,
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.store.AdvanceCheckpoint(context.Background(), acc.ID, checkpoint))
	acc = h.seed(t, acc)

	h.now = checkpoint.Add(3 * time.Hour)
	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.True(t, h.session.since.Equal(checkpoint.Add(-24*time.Hour)), "since = %s", h.session.since)
	assert.True(t, res.WindowStart.Equal(checkpoint.Add(-24*time.Hour)))
	assert.Equal(t, 2, res.Ingested)

	entries := h.entries(t, acc.ID)
	assert.Len(t, entries, 3)
	assert.Contains(t, entries, "New 1")
	assert.Contains(t, entries, "New 2")

	cp := h.checkpoint(t, acc.ID)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(h.now))
}

func TestOrchestrator_Sync_LookbackBoundsFirstRun(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "ancient@example.com", "Ancient", baseTime.Add(-90*24*time.Hour)),
		remoteMail(2, "recent@example.com", "Recent", baseTime.Add(-24*time.Hour)),
	)
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.True(t, res.WindowStart.Equal(baseTime.Add(-31*24*time.Hour)))
	assert.Equal(t, 1, res.Ingested)
}

func TestOrchestrator_Sync_EmptyWindowAdvancesCheckpoint(t *testing.T) {
	h := newHarness(t)
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Ingested)
	assert.Equal(t, 0, h.classifier.calls)
	assert.NotContains(t, h.states, StateClassifying)
	cp := h.checkpoint(t, acc.ID)
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(baseTime))
}

func TestOrchestrator_Sync_FailsOpenOnMalformedOutput(t *testing.T) {
	var msgs []remote
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, remoteMail(uint32(i), string(rune('a'+i))+"@example.com",
			"Message "+string(rune('A'+i)), baseTime.Add(-time.Duration(i)*time.Hour)))
	}
	h := newHarness(t, msgs...)
	h.classifier.err = &classify.Error{Kind: classify.KindMalformed, Err: errors.New("not json")}
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Ingested)
	require.Error(t, res.ClassifierErr)
	assert.True(t, classify.IsError(res.ClassifierErr))
	assert.Equal(t, 1, h.classifier.calls)

	entries := h.entries(t, acc.ID)
	require.Len(t, entries, 5)
	for subject, d := range entries {
		assert.Equal(t, model.FolderInbox, d.Entry.Folder, subject)
		assert.False(t, d.Entry.Spam, subject)
		assert.False(t, d.Entry.Classified, subject)
	}
	assert.NotNil(t, h.checkpoint(t, acc.ID))
}

func TestOrchestrator_Sync_FailsOpenOnEmptyResult(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-time.Hour)),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour)),
	)
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)
	assert.Nil(t, res.ClassifierErr)

	for _, d := range h.entries(t, acc.ID) {
		assert.Equal(t, model.FolderInbox, d.Entry.Folder)
		assert.False(t, d.Entry.Spam)
	}
}

func TestOrchestrator_Sync_SpamAndUnlabeled(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour)),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour)),
	)
	h.classifier.labels["A"] = "spam"
	acc := h.seed(t, model.Account{})

	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	entries := h.entries(t, acc.ID)
	a, b := entries["A"], entries["B"]
	assert.Equal(t, model.FolderSpam, a.Entry.Folder)
	assert.True(t, a.Entry.Spam)
	assert.True(t, a.Entry.Classified)
	assert.Equal(t, model.FolderInbox, b.Entry.Folder)
	assert.False(t, b.Entry.Spam)
	assert.False(t, b.Entry.Classified)
}

func TestOrchestrator_Sync_AttachmentFailureSkipsOnlyThatMessage(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-3*time.Hour), part{"a.txt", "aaa"}),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-2*time.Hour), part{"ok.txt", "bbb"}, part{"bad.pdf", "xxx"}),
		remoteMail(3, "c@example.com", "C", baseTime.Add(-time.Hour)),
	)
	h.sink = failingSink{Sink: h.sink, refuse: "bad.pdf"}
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Ingested)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageStorage, res.Errors[0].Stage)
	assert.Equal(t, uint32(2), res.Errors[0].UID)
	assert.True(t, attachment.IsStorageError(res.Errors[0].Err))

	entries := h.entries(t, acc.ID)
	assert.Len(t, entries, 2)
	assert.NotContains(t, entries, "B")

	exists, err := h.store.EntryExists(context.Background(), acc.ID, "mid:b@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Len(t, h.files(t), 1, "only the payload of A remains")
	assert.Len(t, h.classifier.items, 2)
}

func TestOrchestrator_Sync_ConnectFailureKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, remoteMail(1, "a@example.com", "A", baseTime.Add(-time.Hour)))
	h.opener.err = &mailbox.ConnectError{Addr: "imap.example.com:993", Err: errors.New("connection refused")}
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.Error(t, err)
	assert.True(t, mailbox.IsConnectError(err))

	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Reason, "connection refused")
	assert.Equal(t, 0, res.Ingested)
	assert.Nil(t, res.Checkpoint)
	assert.Nil(t, h.checkpoint(t, acc.ID))
	assert.Equal(t, []State{StateConnecting, StateFailed, StateIdle}, h.states)
	assert.Equal(t, []string{"failed"}, h.recorder.outcomes)
}

func TestOrchestrator_Sync_AuthFailure(t *testing.T) {
	h := newHarness(t)
	h.opener.err = &mailbox.AuthError{Username: "me", Err: errors.New("invalid credentials")}
	acc := h.seed(t, model.Account{})

	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.Error(t, err)
	assert.True(t, mailbox.IsAuthError(err))

	stored, err := h.store.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Valid, "validity is the caller's decision")
}

func TestOrchestrator_Sync_MissingCredentialsIsAuthFailure(t *testing.T) {
	h := newHarness(t)
	acc := h.seed(t, model.Account{})

	opts := h.opts
	opts.Now = func() time.Time { return h.now }
	creds := credential.ProviderFunc(func(context.Context, model.Account) (credential.Credentials, error) {
		return credential.Credentials{}, credential.ErrNoCredential
	})
	o := NewOrchestrator(h.store, h.opener, creds, gateway(h.classifier), h.sink, opts)

	_, err := o.Sync(context.Background(), acc)
	require.Error(t, err)
	assert.True(t, mailbox.IsAuthError(err))
	assert.ErrorIs(t, err, credential.ErrNoCredential)
	assert.Equal(t, 0, h.opener.opens)
}

func TestOrchestrator_Sync_SelectFailureFailsRun(t *testing.T) {
	h := newHarness(t)
	h.session.selectErr = &mailbox.ProtocolError{Op: "SELECT", Err: errors.New("no such mailbox")}
	acc := h.seed(t, model.Account{})

	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.Error(t, err)
	assert.True(t, mailbox.IsProtocolError(err))
	assert.Equal(t, 1, h.session.closed)
	assert.Nil(t, h.checkpoint(t, acc.ID))
}

func TestOrchestrator_Sync_PerMessageFailuresAreSkipped(t *testing.T) {
	broken := remoteMail(2, "b@example.com", "B", baseTime.Add(-2*time.Hour))
	broken.fetchErr = &mailbox.FetchError{UID: 2, Err: errors.New("NO message expunged")}
	garbage := remote{handle: mailbox.Handle{UID: 3, MessageID: "c@example.com", Date: baseTime.Add(-time.Hour)}, raw: []byte{}}

	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-3*time.Hour)),
		broken,
		garbage,
	)
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Ingested)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, StageFetch, res.Errors[0].Stage)
	assert.Equal(t, StageParse, res.Errors[1].Stage)
	assert.NotNil(t, h.checkpoint(t, acc.ID))
}

func TestOrchestrator_Sync_BrokenSessionFailsRun(t *testing.T) {
	broken := remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour))
	broken.fetchErr = &mailbox.FetchError{UID: 2, Broken: true, Err: errors.New("connection reset")}
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour), part{"a.txt", "aaa"}),
		broken,
	)
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.Error(t, err)
	assert.True(t, mailbox.IsBrokenSession(err))
	assert.Equal(t, 0, res.Ingested)
	assert.Empty(t, h.entries(t, acc.ID))
	assert.Empty(t, h.files(t), "payloads of the abandoned window are removed")
	assert.Equal(t, 0, h.classifier.calls)
	assert.Nil(t, h.checkpoint(t, acc.ID))
}

func TestOrchestrator_Sync_SessionTimeout(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour)),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour)),
	)
	h.session.onFetch = func(ctx context.Context, hd mailbox.Handle) error {
		if hd.UID == 2 {
			<-ctx.Done()
			return &mailbox.ConnectError{Addr: "imap", Err: ctx.Err()}
		}
		return nil
	}
	h.opts.SessionTimeout = 50 * time.Millisecond
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionTimeout)
	assert.Equal(t, 0, res.Ingested)
	assert.Nil(t, h.checkpoint(t, acc.ID))
}

func TestOrchestrator_Sync_CancelledBetweenMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour)),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour)),
	)
	h.session.onFetch = func(_ context.Context, hd mailbox.Handle) error {
		if hd.UID == 1 {
			cancel()
		}
		return nil
	}
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(ctx, acc)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint32{1}, h.session.fetched)
	assert.Equal(t, 0, res.Ingested)
	assert.Nil(t, h.checkpoint(t, acc.ID))
}

// cancelAfterPublish cancels the run once the first entry is published.
type cancelAfterPublish struct {
	events.Nop
	cancel context.CancelFunc
}

func (p cancelAfterPublish) PublishIngested(context.Context, events.EntryIngested) error {
	p.cancel()
	return nil
}

func TestOrchestrator_Sync_CancelledDuringPersistCountsCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour), part{"a.txt", "AAA"}),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour), part{"b.txt", "BBB"}),
	)
	h.opts.Publisher = cancelAfterPublish{cancel: cancel}
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(ctx, acc)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Failed())
	assert.Equal(t, 1, res.Ingested)
	assert.Nil(t, res.Checkpoint)
	assert.Nil(t, h.checkpoint(t, acc.ID))

	entries := h.entries(t, acc.ID)
	assert.Contains(t, entries, "A")
	assert.NotContains(t, entries, "B")
	assert.Len(t, h.files(t), 1, "the uncommitted payload is removed")
}

func TestOrchestrator_Sync_ConcurrentIngestIsSkipped(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "A", baseTime.Add(-2*time.Hour)),
		remoteMail(2, "b@example.com", "B", baseTime.Add(-time.Hour)),
	)
	acc := h.seed(t, model.Account{})

	// Another worker commits B while this run waits for the classifier.
	racer := classify.ClassifierFunc(func(ctx context.Context, items []classify.Item, _ classify.Profile) (map[string]string, error) {
		_, err := h.store.IngestMessage(ctx, store.Ingest{
			Message: model.Message{MessageID: "b@example.com", Fingerprint: "other-run", Subject: "B"},
			Entry: model.MailboxEntry{
				AccountID: acc.ID, DedupKey: "mid:b@example.com", Folder: model.FolderInbox,
			},
		})
		return map[string]string{}, err
	})
	opts := h.opts
	opts.Now = func() time.Time { return h.now }
	o := NewOrchestrator(h.store, h.opener, staticCreds(), gateway(racer), h.sink, opts)

	res, err := o.Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Ingested)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, uint32(2), res.Skipped[0].UID)
	assert.Empty(t, res.Errors)
	assert.Len(t, h.entries(t, acc.ID), 2)
}

func TestOrchestrator_Sync_ProviderIDsAndFlags(t *testing.T) {
	m := remoteMail(7, "a@example.com", "A", baseTime.Add(-time.Hour))
	m.handle.ProviderID = "42:7"
	m.handle.Seen = true
	m.handle.Flagged = true
	h := newHarness(t, m)
	acc := h.seed(t, model.Account{ProviderIDs: true})

	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	d := h.entries(t, acc.ID)["A"]
	assert.Equal(t, "provider:42:7", d.Entry.DedupKey)
	assert.Equal(t, "42:7", d.Message.ProviderID)
	assert.True(t, d.Entry.Read)
	assert.True(t, d.Entry.Important)
	assert.True(t, d.Entry.ReceivedAt.Equal(baseTime.Add(-time.Hour)))
}

func TestOrchestrator_Sync_ReceivedAtUsesServerArrivalTime(t *testing.T) {
	arrived := baseTime.Add(-30 * time.Minute)
	m := remoteMail(1, "a@example.com", "Backdated", baseTime.Add(-72*time.Hour))
	m.handle.Date = baseTime.Add(-time.Hour)
	m.handle.ReceivedAt = arrived
	h := newHarness(t, m)
	acc := h.seed(t, model.Account{})

	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	d := h.entries(t, acc.ID)["Backdated"]
	assert.True(t, d.Entry.ReceivedAt.Equal(arrived), "got %s", d.Entry.ReceivedAt)
}

func TestOrchestrator_Sync_MessagesWithoutIDsUseContentKey(t *testing.T) {
	m := remoteMail(1, "", "Anonymous", baseTime.Add(-time.Hour))
	h := newHarness(t, m)
	acc := h.seed(t, model.Account{})
	o := h.orchestrator()

	res, err := o.Sync(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested)

	d := h.entries(t, acc.ID)["Anonymous"]
	assert.Contains(t, d.Entry.DedupKey, "sha256:")

	res, err = o.Sync(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Ingested)
	assert.Equal(t, 1, res.Known)
}

func TestOrchestrator_Sync_CapsWindowToNewestHandles(t *testing.T) {
	var msgs []remote
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, remoteMail(uint32(i), string(rune('a'+i))+"@example.com",
			"M"+string(rune('0'+i)), baseTime.Add(-time.Duration(10-i)*time.Hour)))
	}
	h := newHarness(t, msgs...)
	h.opts.BatchSize = 2
	acc := h.seed(t, model.Account{})

	res, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, []uint32{4, 5}, h.session.fetched)
	entries := h.entries(t, acc.ID)
	assert.Contains(t, entries, "M4")
	assert.Contains(t, entries, "M5")
}

func TestOrchestrator_Sync_SharesContentAcrossAccounts(t *testing.T) {
	m := remoteMail(1, "shared@example.com", "Newsletter", baseTime.Add(-time.Hour), part{"issue.pdf", "PDF"})
	h := newHarness(t, m)
	first := h.seed(t, model.Account{ID: "acc-1"})
	second := h.seed(t, model.Account{ID: "acc-2"})
	o := h.orchestrator()

	_, err := o.Sync(context.Background(), first)
	require.NoError(t, err)
	res, err := o.Sync(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested)

	a := h.entries(t, "acc-1")["Newsletter"]
	b := h.entries(t, "acc-2")["Newsletter"]
	assert.Equal(t, a.Message.ID, b.Message.ID)
	assert.Len(t, h.files(t), 1, "the second copy's payload is dropped")
}

func TestOrchestrator_Sync_ReusedMessageIDDoesNotShareContent(t *testing.T) {
	h := newHarness(t, remoteMail(1, "dup@example.com", "Hello A", baseTime.Add(-time.Hour), part{"a.txt", "AAA"}))
	first := h.seed(t, model.Account{ID: "acc-1"})
	second := h.seed(t, model.Account{ID: "acc-2"})
	o := h.orchestrator()

	_, err := o.Sync(context.Background(), first)
	require.NoError(t, err)

	// A different message from another server reuses the Message-ID.
	h.session.messages = []remote{
		remoteMail(1, "dup@example.com", "Secret B", baseTime.Add(-time.Hour), part{"b.txt", "BBB"}),
	}
	res, err := o.Sync(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested)
	assert.Empty(t, res.Skipped)

	a := h.entries(t, "acc-1")
	b := h.entries(t, "acc-2")
	require.Contains(t, a, "Hello A")
	require.Contains(t, b, "Secret B")
	assert.NotContains(t, b, "Hello A")
	assert.NotEqual(t, a["Hello A"].Message.ID, b["Secret B"].Message.ID)
	require.NotNil(t, b["Secret B"].Message.TextBody)
	assert.Contains(t, *b["Secret B"].Message.TextBody, "Body of Secret B")
	assert.Len(t, h.files(t), 2, "each account keeps its own payload")
}

func TestOrchestrator_Reclassify(t *testing.T) {
	h := newHarness(t,
		remoteMail(1, "a@example.com", "Cheap pills", baseTime.Add(-2*time.Hour)),
		remoteMail(2, "b@example.com", "Team sync", baseTime.Add(-time.Hour)),
	)
	h.classifier.err = &classify.Error{Kind: classify.KindStatus, StatusCode: 503, Err: errors.New("down")}
	acc := h.seed(t, model.Account{})
	o := h.orchestrator()

	res, err := o.Sync(context.Background(), acc)
	require.NoError(t, err)
	require.Error(t, res.ClassifierErr)

	_, err = o.Reclassify(context.Background(), acc)
	require.Error(t, err, "a failing classifier leaves entries alone")

	h.classifier.err = nil
	h.classifier.labels["Cheap pills"] = "spam"
	rr, err := o.Reclassify(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 2, rr.Checked)
	assert.Equal(t, 1, rr.Spam)
	assert.Equal(t, 1, rr.Inbox)
	assert.ElementsMatch(t, []string{"spam", "inbox"}, h.recorder.reclassified)

	entries := h.entries(t, acc.ID)
	assert.Equal(t, model.FolderSpam, entries["Cheap pills"].Entry.Folder)
	assert.True(t, entries["Cheap pills"].Entry.Spam)
	assert.Equal(t, model.FolderInbox, entries["Team sync"].Entry.Folder)
	assert.True(t, entries["Team sync"].Entry.Classified)

	rr, err = o.Reclassify(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Checked)
}

func TestOrchestrator_Reclassify_SkipsEntriesMovedMeanwhile(t *testing.T) {
	h := newHarness(t, remoteMail(1, "a@example.com", "A", baseTime.Add(-time.Hour)))
	h.classifier.err = &classify.Error{Kind: classify.KindMalformed, Err: errors.New("bad")}
	acc := h.seed(t, model.Account{})
	_, err := h.orchestrator().Sync(context.Background(), acc)
	require.NoError(t, err)
	entryID := h.entries(t, acc.ID)["A"].Entry.ID

	mover := classify.ClassifierFunc(func(ctx context.Context, items []classify.Item, _ classify.Profile) (map[string]string, error) {
		require.NoError(t, h.store.MoveEntry(ctx, entryID, model.FolderTrash))
		return map[string]string{entryID: "spam"}, nil
	})
	opts := h.opts
	opts.Now = func() time.Time { return h.now }
	o := NewOrchestrator(h.store, h.opener, staticCreds(), gateway(mover), h.sink, opts)

	rr, err := o.Reclassify(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Raced)

	d, err := h.store.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, model.FolderTrash, d.Entry.Folder)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "window-selection", StateWindowSelection.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
