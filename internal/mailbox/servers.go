package mailbox

import (
	"fmt"
	"strings"

	"github.com/ajy121650/mailer-back/internal/model"
)

// Server is the IMAP endpoint of an account.
type Server struct {
	Host string
	Port int
	TLS  model.TLSMode
}

// Addr returns host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var knownServers = map[string]Server{
	"gmail":     {Host: "imap.gmail.com", Port: 993, TLS: model.TLSImplicit},
	"google":    {Host: "imap.gmail.com", Port: 993, TLS: model.TLSImplicit},
	"outlook":   {Host: "outlook.office365.com", Port: 993, TLS: model.TLSImplicit},
	"hotmail":   {Host: "outlook.office365.com", Port: 993, TLS: model.TLSImplicit},
	"live":      {Host: "outlook.office365.com", Port: 993, TLS: model.TLSImplicit},
	"office365": {Host: "outlook.office365.com", Port: 993, TLS: model.TLSImplicit},
	"naver":     {Host: "imap.naver.com", Port: 993, TLS: model.TLSImplicit},
	"daum":      {Host: "imap.daum.net", Port: 993, TLS: model.TLSImplicit},
	"kakao":     {Host: "imap.kakao.com", Port: 993, TLS: model.TLSImplicit},
	"yahoo":     {Host: "imap.mail.yahoo.com", Port: 993, TLS: model.TLSImplicit},
	"icloud":    {Host: "imap.mail.me.com", Port: 993, TLS: model.TLSImplicit},
	"aol":       {Host: "imap.aol.com", Port: 993, TLS: model.TLSImplicit},
}

// ResolveServer returns the IMAP endpoint for an account. Host, port, and
// TLS overrides on the account win over the domain table.
func ResolveServer(acc model.Account) (Server, error) {
	srv, known := knownServers[strings.ToLower(strings.TrimSpace(acc.Domain))]
	if !known && acc.Host == "" {
		return Server{}, fmt.Errorf("unsupported mail domain %q", acc.Domain)
	}

	if acc.Host != "" {
		srv.Host = acc.Host
	}
	if acc.Port != 0 {
		srv.Port = acc.Port
	}
	if acc.TLS != "" {
		srv.TLS = acc.TLS
	}
	if srv.Port == 0 {
		srv.Port = 993
	}
	if srv.TLS == "" {
		srv.TLS = model.TLSImplicit
	}

	switch srv.TLS {
	case model.TLSImplicit, model.TLSStartTLS:
	default:
		return Server{}, fmt.Errorf("unsupported tls mode %q", srv.TLS)
	}
	return srv, nil
}
