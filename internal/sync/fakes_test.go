package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/ajy121650/mailer-back/internal/attachment"
	"github.com/ajy121650/mailer-back/internal/classify"
	"github.com/ajy121650/mailer-back/internal/credential"
	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/model"
)

// remote is one message on the fake server.
type remote struct {
	handle   mailbox.Handle
	raw      []byte
	fetchErr error
}

type fakeSession struct {
	mu        gosync.Mutex
	messages  []remote
	selectErr error
	searchErr error
	since     time.Time
	fetched   []uint32
	closed    int

	// onFetch runs before each fetch.
	onFetch func(ctx context.Context, h mailbox.Handle) error
}

func (f *fakeSession) SelectFolder(context.Context, string) error {
	return f.selectErr
}

func (f *fakeSession) SearchSince(_ context.Context, since time.Time, _ int) ([]mailbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []mailbox.Handle
	for _, m := range f.messages {
		if !m.handle.Date.Before(since) {
			out = append(out, m.handle)
		}
	}
	return out, nil
}

func (f *fakeSession) FetchRaw(ctx context.Context, h mailbox.Handle) ([]byte, error) {
	if f.onFetch != nil {
		if err := f.onFetch(ctx, h); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, h.UID)
	for _, m := range f.messages {
		if m.handle.UID == h.UID {
			if m.fetchErr != nil {
				return nil, m.fetchErr
			}
			return m.raw, nil
		}
	}
	return nil, &mailbox.FetchError{UID: h.UID, Err: fmt.Errorf("no such message")}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeOpener struct {
	session *fakeSession
	err     error
	opens   int
}

func (o *fakeOpener) Open(context.Context, model.Account, credential.Credentials) (mailbox.Session, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

func staticCreds() credential.Provider {
	return credential.ProviderFunc(func(_ context.Context, acc model.Account) (credential.Credentials, error) {
		return credential.Credentials{Username: acc.Address, Password: "app-password"}, nil
	})
}

// labelBySubject answers with the label mapped from each item's subject.
type labelBySubject struct {
	mu     gosync.Mutex
	labels map[string]string
	calls  int
	items  []classify.Item
	err    error
}

func (c *labelBySubject) Classify(_ context.Context, items []classify.Item, _ classify.Profile) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.items = append(c.items, items...)
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]string)
	for _, it := range items {
		if l, ok := c.labels[it.Subject]; ok {
			out[it.ID] = l
		}
	}
	return out, nil
}

func gateway(c classify.Classifier) *classify.Gateway {
	return classify.NewGateway(c, classify.GatewayOptions{MaxRetries: 1, RetryDelay: time.Millisecond})
}

// failingSink refuses to store one filename.
type failingSink struct {
	attachment.Sink
	refuse string
}

func (s failingSink) Store(ctx context.Context, filename string, content []byte) (string, error) {
	if filename == s.refuse {
		return "", &attachment.StorageError{Filename: filename, Err: fmt.Errorf("disk full")}
	}
	return s.Sink.Store(ctx, filename, content)
}

type recorder struct {
	mu           gosync.Mutex
	outcomes     []string
	reclassified []string
}

func (r *recorder) RunFinished(outcome string, _ time.Duration, _, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) EntryReclassified(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclassified = append(r.reclassified, label)
}

type part struct {
	filename string
	content  string
}

// rawMail builds an RFC 5322 message; attachments make it multipart.
func rawMail(messageID, subject string, date time.Time, atts ...part) []byte {
	var b strings.Builder
	if messageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	}
	fmt.Fprintf(&b, "From: Sender <sender@example.com>\r\n")
	fmt.Fprintf(&b, "To: me@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(atts) == 0 {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		fmt.Fprintf(&b, "Body of %s\r\n", subject)
		return []byte(b.String())
	}

	b.WriteString("Content-Type: multipart/mixed; boundary=BOUNDARY\r\n\r\n")
	b.WriteString("--BOUNDARY\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Body of %s\r\n", subject)
	for _, a := range atts {
		b.WriteString("--BOUNDARY\r\n")
		b.WriteString("Content-Type: application/octet-stream\r\n")
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", a.filename)
		b.WriteString(a.content + "\r\n")
	}
	b.WriteString("--BOUNDARY--\r\n")
	return []byte(b.String())
}

func remoteMail(uid uint32, messageID, subject string, date time.Time, atts ...part) remote {
	return remote{
		handle: mailbox.Handle{UID: uid, MessageID: messageID, Date: date},
		raw:    rawMail(messageID, subject, date, atts...),
	}
}
