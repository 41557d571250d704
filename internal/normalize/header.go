package normalize

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
)

// wordDecoder decodes RFC 2047 encoded words. Charsets go-message cannot
// convert fall back to the raw bytes, which are then forced to valid UTF-8.
var wordDecoder = &mime.WordDecoder{CharsetReader: tolerantCharsetReader}

func tolerantCharsetReader(charset string, input io.Reader) (io.Reader, error) {
	// Non-standard tags such as "utf-8*ja" carry an RFC 2231 language
	// suffix.
	if i := strings.IndexByte(charset, '*'); i >= 0 {
		charset = charset[:i]
	}
	charset = strings.ToLower(strings.TrimSpace(charset))

	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return input, nil
	}
	if message.CharsetReader != nil {
		if r, err := message.CharsetReader(charset, input); err == nil {
			return r, nil
		}
	}
	return input, nil
}

// decodeHeader decodes every encoded word in s. It never fails: words that
// cannot be decoded are kept verbatim and invalid UTF-8 is replaced with
// U+FFFD.
func decodeHeader(s string) string {
	if s == "" {
		return ""
	}
	dec, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		dec = s
	}
	return toValidUTF8(strings.TrimSpace(dec))
}

// decodeAddressList parses an address header into "Name <addr>" strings
// with display names decoded. Unparsable lists fall back to splitting the
// decoded value on commas.
func decodeAddressList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	parser := mail.AddressParser{WordDecoder: wordDecoder}
	addrs, err := parser.ParseList(s)
	if err != nil {
		var out []string
		for _, part := range strings.Split(decodeHeader(s), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if f := formatAddress(a); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// formatAddress joins a display name and address without re-encoding the
// name, unlike mail.Address.String.
func formatAddress(a *mail.Address) string {
	name := toValidUTF8(strings.TrimSpace(a.Name))
	switch {
	case name != "" && a.Address != "":
		return fmt.Sprintf("%s <%s>", name, a.Address)
	case a.Address != "":
		return a.Address
	default:
		return name
	}
}

// normalizeMessageID strips whitespace and angle brackets from a
// Message-ID header.
func normalizeMessageID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func bytesToValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string(bytes.ToValidUTF8(b, []byte("�")))
}
