// Package httpparser implements the streaming HTTP/1.x message parser:
// status/request line, header fields (including obsolete line folding),
// fixed-length/chunked/until-close bodies, and optional gzip inflation of
// the decoded body. It mirrors original_source/core/http_internal.h's state
// enums (S_HTTP_STATUS_LINE, S_HTTP_REQUEST_LINE, S_HTTP_HEADER_FIELDS,
// S_HTTP_BODY, S_CHUNK_SIZE/S_CHUNK_DATA/S_CHUNK_LAST) and its fixed limits.
package httpparser

// Role selects which start line grammar a Parser expects.
type Role int

const (
	// RoleClient parses status lines (HTTP/1.1 200 OK).
	RoleClient Role = iota
	// RoleServer parses request lines (GET /path HTTP/1.1).
	RoleServer
)

// RawField is a header not in the recognized set, preserved verbatim. A
// continuation line (leading SP/HTAB, obs-fold) appends another Value
// rather than creating a new field.
type RawField struct {
	Key    string
	Values []string
}

// Message is the structured view of one parsed HTTP request or response.
type Message struct {
	// Start line.
	StatusCode int    // response only
	Method     string // request only
	Target     string // request only
	Version    string // "HTTP/1.1" or "HTTP/1.0"

	// Recognized headers.
	Host             string
	HasContentLength bool
	ContentLength    int64
	Connection       string
	UserAgent        string
	Location         string
	AcceptEncoding   string
	ContentEncoding  string
	TransferEncoding string

	ChunkedTransferEncoding bool
	ConnectionClose         bool
	IsOptionsMethod         bool
	IsConnectMethod         bool

	RawFields []RawField

	// RawBody is the body exactly as received on the wire (post chunk
	// reassembly, pre gzip-inflate).
	RawBody []byte
	// DecodedBody is RawBody after gzip inflation, set only when
	// ContentEncoding is exactly "gzip" and inflation succeeded.
	DecodedBody []byte
}

// Body returns the decoded body if gzip inflation ran, else the raw body.
func (m *Message) Body() []byte {
	if m.DecodedBody != nil {
		return m.DecodedBody
	}
	return m.RawBody
}

// HeaderValue looks up a raw (unrecognized) header by case-insensitive key,
// returning its first value line.
func (m *Message) HeaderValue(key string) (string, bool) {
	for _, f := range m.RawFields {
		if equalFold(f.Key, key) && len(f.Values) > 0 {
			return f.Values[0], true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Dup returns an independent deep copy of m, owning its own backing arrays
// for body bytes and raw field slices.
func (m *Message) Dup() *Message {
	d := *m
	if m.RawBody != nil {
		d.RawBody = append([]byte(nil), m.RawBody...)
	}
	if m.DecodedBody != nil {
		d.DecodedBody = append([]byte(nil), m.DecodedBody...)
	}
	if m.RawFields != nil {
		d.RawFields = make([]RawField, len(m.RawFields))
		for i, f := range m.RawFields {
			d.RawFields[i] = RawField{Key: f.Key, Values: append([]string(nil), f.Values...)}
		}
	}
	return &d
}
