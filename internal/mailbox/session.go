// Package mailbox wraps go-imap v2 into the narrow session the sync
// pipeline needs: open, select, search a date window, fetch raw bytes,
// close.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/credential"
	"github.com/ajy121650/mailer-back/internal/model"
)

// Handle identifies one remote message found by SearchSince.
type Handle struct {
	UID       uint32
	MessageID string

	// ProviderID is "<uidvalidity>:<uid>" for accounts whose server ids
	// are trusted for deduplication, empty otherwise.
	ProviderID string

	// Date is the sender-supplied envelope date.
	Date time.Time
	// ReceivedAt is the server's INTERNALDATE, zero when not reported.
	ReceivedAt time.Time

	Seen    bool
	Flagged bool
}

// Session is an authenticated IMAP connection owned by one sync worker.
type Session interface {
	SelectFolder(ctx context.Context, name string) error
	SearchSince(ctx context.Context, since time.Time, limit int) ([]Handle, error)
	FetchRaw(ctx context.Context, h Handle) ([]byte, error)
	Close() error
}

// Opener opens sessions.
type Opener interface {
	Open(ctx context.Context, acc model.Account, creds credential.Credentials) (Session, error)
}

// Dialer opens IMAP sessions with explicit connect and per-command
// timeouts.
type Dialer struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// TLSConfig is cloned for each connection; ServerName defaults to the
	// resolved host.
	TLSConfig *tls.Config

	Logger *zap.Logger
}

// NewDialer returns a Dialer with the given timeouts.
func NewDialer(connectTimeout, commandTimeout time.Duration, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		ConnectTimeout: connectTimeout,
		CommandTimeout: commandTimeout,
		Logger:         logger,
	}
}

// Open connects to the account's server and logs in. The session is torn
// down when ctx is done, failing any command in flight.
func (d *Dialer) Open(
	ctx context.Context,
	acc model.Account,
	creds credential.Credentials,
) (Session, error) {
	srv, err := ResolveServer(acc)
	if err != nil {
		return nil, &ConnectError{Addr: acc.Domain, Err: err}
	}
	addr := srv.Addr()

	dialer := &net.Dialer{Timeout: d.connectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	tlsConfig := d.tlsConfig(srv.Host)
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	// The greeting, STARTTLS, and LOGIN all count against the connect
	// timeout.
	_ = conn.SetDeadline(time.Now().Add(d.connectTimeout()))

	var client *imapclient.Client
	switch srv.TLS {
	case model.TLSImplicit:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("tls handshake: %w", err)}
		}
		client = imapclient.New(tlsConn, opts)
	case model.TLSStartTLS:
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("starttls: %w", err)}
		}
	default:
		conn.Close()
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("unsupported tls mode %q", srv.TLS)}
	}

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		_ = client.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &AuthError{
				Username: creds.Username,
				Err:      fmt.Errorf("authentication failed: %w", err),
			}
		}
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("login: %w", err)}
	}
	_ = conn.SetDeadline(time.Time{})

	s := &imapSession{
		client:         client,
		conn:           conn,
		addr:           addr,
		providerIDs:    acc.ProviderIDs,
		commandTimeout: d.commandTimeout(),
		logger:         d.logger().With(zap.String("account_id", acc.ID), zap.String("addr", addr)),
	}
	s.stop = context.AfterFunc(ctx, func() {
		// Unblock any pending read or write.
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	s.logger.Debug("imap session opened")
	return s, nil
}

func (d *Dialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return 15 * time.Second
}

func (d *Dialer) commandTimeout() time.Duration {
	if d.CommandTimeout > 0 {
		return d.CommandTimeout
	}
	return 30 * time.Second
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d *Dialer) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

type imapSession struct {
	client         *imapclient.Client
	conn           net.Conn
	addr           string
	providerIDs    bool
	commandTimeout time.Duration
	logger         *zap.Logger

	uidValidity uint32
	stop        func() bool
	closeOnce   sync.Once
	closeErr    error
}

// deadline arms the connection deadline for one command: the command
// timeout, or the context deadline when that comes first. The returned
// function disarms it.
func (s *imapSession) deadline(ctx context.Context) func() {
	d := time.Now().Add(s.commandTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	_ = s.conn.SetDeadline(d)
	return func() {
		if ctx.Err() == nil {
			_ = s.conn.SetDeadline(time.Time{})
		}
	}
}

// SelectFolder selects the mailbox and records its UIDVALIDITY.
func (s *imapSession) SelectFolder(ctx context.Context, name string) error {
	defer s.deadline(ctx)()

	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return s.commandError("select "+name, err)
	}
	s.uidValidity = data.UIDValidity
	return nil
}

// SearchSince returns handles for messages received on or after since,
// ordered by UID. With limit > 0 only the newest limit messages are kept.
func (s *imapSession) SearchSince(ctx context.Context, since time.Time, limit int) ([]Handle, error) {
	disarm := s.deadline(ctx)
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	disarm()
	if err != nil {
		return nil, s.commandError("search", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	// Limit the number of UIDs to fetch (take most recent)
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	defer s.deadline(ctx)()

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		InternalDate: true,
		UID:          true,
	})
	bufs, err := fetchCmd.Collect()
	if err != nil {
		return nil, s.commandError("fetch envelopes", err)
	}

	handles := make([]Handle, 0, len(bufs))
	for _, buf := range bufs {
		handles = append(handles, handleFromBuffer(buf, s.uidValidity, s.providerIDs))
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].UID < handles[j].UID })

	return handles, nil
}

// FetchRaw returns the full RFC 5322 bytes of a message without setting
// \Seen.
func (s *imapSession) FetchRaw(ctx context.Context, h Handle) ([]byte, error) {
	defer s.deadline(ctx)()

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(h.UID)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, s.fetchError(h.UID, err)
		}
		return nil, &FetchError{UID: h.UID, Err: errors.New("message no longer exists")}
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, s.fetchError(h.UID, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, &FetchError{UID: h.UID, Err: errors.New("server returned no body")}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, s.fetchError(h.UID, err)
	}
	return raw, nil
}

// Close logs out and closes the connection. It is safe to call more than
// once.
func (s *imapSession) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		_ = s.conn.SetDeadline(time.Now().Add(s.commandTimeout))
		if err := s.client.Logout().Wait(); err != nil {
			s.logger.Debug("imap logout failed", zap.Error(err))
		}
		s.closeErr = s.client.Close()
		if s.closeErr != nil && isClosedConn(s.closeErr) {
			s.closeErr = nil
		}
		s.logger.Debug("imap session closed")
	})
	return s.closeErr
}

// commandError maps a failed mailbox-level command. Server refusals are
// protocol errors; anything else means the connection is gone.
func (s *imapSession) commandError(op string, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &ProtocolError{Op: op, Err: err}
	}
	return &ConnectError{Addr: s.addr, Err: fmt.Errorf("%s: %w", op, err)}
}

func (s *imapSession) fetchError(uid uint32, err error) error {
	var imapErr *imap.Error
	return &FetchError{UID: uid, Broken: !errors.As(err, &imapErr), Err: err}
}

// handleFromBuffer extracts a Handle from a FetchMessageBuffer.
func handleFromBuffer(buf *imapclient.FetchMessageBuffer, uidValidity uint32, providerIDs bool) Handle {
	h := Handle{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		h.MessageID = strings.Trim(strings.TrimSpace(buf.Envelope.MessageID), "<>")
		h.Date = buf.Envelope.Date
	}
	h.ReceivedAt = buf.InternalDate

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			h.Seen = true
		case imap.FlagFlagged:
			h.Flagged = true
		}
	}

	if providerIDs && uidValidity != 0 && h.UID != 0 {
		h.ProviderID = fmt.Sprintf("%d:%d", uidValidity, h.UID)
	}

	return h
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
