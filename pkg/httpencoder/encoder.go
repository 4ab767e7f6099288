// Package httpencoder renders an httpparser.Message back onto the wire:
// start line, recognized headers in canonical order, raw fields (with
// folded multi-value support), and body. It also implements
// application/x-www-form-urlencoded encoding/decoding into pkg/formtable,
// grounded on original_source/core/http_internal.h's HTTP_WWW_FORM_* limits.
package httpencoder

import (
	"strconv"
	"strings"

	"github.com/WhileEndless/reactorhttp/pkg/constants"
	"github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/formtable"
	"github.com/WhileEndless/reactorhttp/pkg/httpparser"
)

const (
	maxHeaderBlock = 64 * 1024
	maxShortField  = 256
	maxTargetField = 16 * 1024
	maxUAField     = 256
)

func encodeErr(op, msg string) error {
	return errors.NewKindError(errors.KindHdrTooLarge, op, msg)
}

// EncodeRequest renders a request-form message: "METHOD target HTTP/1.1\r\n"
// followed by headers and body.
func EncodeRequest(m *httpparser.Message) ([]byte, error) {
	if len(m.Method) == 0 || len(m.Target) == 0 {
		return nil, errors.NewKindError(errors.KindWrongParams, "encode_request", "method and target are required")
	}
	if len(m.Target) > maxTargetField {
		return nil, encodeErr("encode_request", "target exceeds max field size")
	}
	version := m.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	startLine := m.Method + " " + m.Target + " " + version + "\r\n"
	return encode(m, startLine)
}

// EncodeResponse renders a reply-form message: "HTTP/1.1 CODE[ reason]\r\n"
// with a reason phrase only for status 200 ("OK").
func EncodeResponse(m *httpparser.Message) ([]byte, error) {
	if m.StatusCode < 100 || m.StatusCode > 599 {
		return nil, errors.NewKindError(errors.KindWrongParams, "encode_response", "status code out of range")
	}
	version := m.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	var startLine string
	if m.StatusCode == 200 {
		startLine = version + " 200 OK\r\n"
	} else {
		startLine = version + " " + strconv.Itoa(m.StatusCode) + "\r\n"
	}
	return encode(m, startLine)
}

func encode(m *httpparser.Message, startLine string) ([]byte, error) {
	var b strings.Builder
	b.WriteString(startLine)

	if err := writeField(&b, "Host", m.Host, maxShortField); err != nil {
		return nil, err
	}

	body := m.Body()
	if len(body) > 0 && !m.ChunkedTransferEncoding {
		if err := writeField(&b, "Content-Length", strconv.Itoa(len(body)), maxShortField); err != nil {
			return nil, err
		}
	}

	connValue := m.Connection
	if connValue == "" {
		if m.ConnectionClose {
			connValue = "close"
		} else {
			connValue = "keep-alive"
		}
	}
	if err := writeField(&b, "Connection", connValue, maxShortField); err != nil {
		return nil, err
	}

	if err := writeField(&b, "User-Agent", m.UserAgent, maxUAField); err != nil {
		return nil, err
	}
	if err := writeField(&b, "Location", m.Location, maxTargetField); err != nil {
		return nil, err
	}
	if err := writeField(&b, "Accept-Encoding", m.AcceptEncoding, maxShortField); err != nil {
		return nil, err
	}
	if err := writeField(&b, "Content-Encoding", m.ContentEncoding, maxShortField); err != nil {
		return nil, err
	}
	if err := writeField(&b, "Transfer-Encoding", m.TransferEncoding, maxShortField); err != nil {
		return nil, err
	}

	for _, f := range m.RawFields {
		for _, v := range f.Values {
			if err := writeField(&b, f.Key, v, maxShortField); err != nil {
				return nil, err
			}
		}
	}

	b.WriteString("\r\n")
	if b.Len() > maxHeaderBlock {
		return nil, encodeErr("encode", "header block exceeds 64 KiB")
	}

	out := make([]byte, 0, b.Len()+len(body))
	out = append(out, []byte(b.String())...)
	out = append(out, body...)
	return out, nil
}

func writeField(b *strings.Builder, key, value string, maxLen int) error {
	if value == "" {
		return nil
	}
	if len(value) > maxLen {
		return encodeErr("encode_field", "header field "+key+" exceeds its field buffer")
	}
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
	return nil
}

// --- application/x-www-form-urlencoded ---

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// FormEncode percent-encodes key/value pairs as application/x-www-form-urlencoded,
// substituting '+' for space.
func FormEncode(pairs [][2]string) string {
	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(formEscape(kv[0]))
		b.WriteByte('=')
		b.WriteString(formEscape(kv[1]))
	}
	return b.String()
}

func formEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(c):
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hexByte(c)))
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

func hexByte(c byte) string {
	return string([]byte{hexDigits[c>>4], hexDigits[c&0x0f]})
}

func formUnescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 >= len(s) {
				return "", errors.NewKindError(errors.KindParseError, "form_decode", "malformed percent escape")
			}
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if !ok1 || !ok2 {
				return "", errors.NewKindError(errors.KindParseError, "form_decode", "malformed percent escape")
			}
			b.WriteByte(byte(hi<<4 | lo))
			i += 2
		default:
			if c < 0x20 || c > 0x7e {
				return "", errors.NewKindError(errors.KindParseError, "form_decode", "non-ASCII byte in form field")
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

// FormDecode parses "a=b&c=d" into t, validating key/value field length
// limits and printable-ASCII percent-escapes. Keys must be non-empty; "=
// "without a value is permitted; a value containing a second unescaped "="
// is an error.
func FormDecode(raw string, t *formtable.Table) error {
	if raw == "" {
		return nil
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		var rawKey, rawVal string
		if eq < 0 {
			rawKey = pair
		} else {
			rawKey = pair[:eq]
			rawVal = pair[eq+1:]
			if strings.IndexByte(rawVal, '=') >= 0 {
				return errors.NewKindError(errors.KindParseError, "form_decode", "repeated '=' in form value")
			}
		}
		if rawKey == "" {
			return errors.NewKindError(errors.KindParseError, "form_decode", "empty form key")
		}
		if len(rawKey) > constants.FormKeyMaxLen {
			return errors.NewKindError(errors.KindParseError, "form_decode", "form key exceeds max length")
		}
		if len(rawVal) > constants.FormValMaxLen {
			return errors.NewKindError(errors.KindParseError, "form_decode", "form value exceeds max length")
		}
		key, err := formUnescape(rawKey)
		if err != nil {
			return err
		}
		val, err := formUnescape(rawVal)
		if err != nil {
			return err
		}
		t.Set(key, val)
	}
	return nil
}
