package httpparser_test

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/httpparser"
)

func TestClientParsesSimpleResponse(t *testing.T) {
	p := httpparser.New(httpparser.RoleClient)
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"

	done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)

	msg := p.Message()
	require.Equal(t, 200, msg.StatusCode)
	require.Equal(t, "hello", string(msg.Body()))
	require.True(t, msg.ConnectionClose)
}

func TestServerParsesPipelinedRequests(t *testing.T) {
	p := httpparser.New(httpparser.RoleServer)
	raw := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"

	done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/a", p.Message().Target)

	p.Reset()
	done, err = p.Feed(nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/b", p.Message().Target)
}

func TestChunkedAndGzipDecoding(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte(`{"k":1}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	body := gz.Bytes()
	half := len(body) / 2
	var chunked bytes.Buffer
	chunked.WriteString(hexLen(half))
	chunked.Write(body[:half])
	chunked.WriteString("\r\n")
	chunked.WriteString(hexLen(len(body) - half))
	chunked.Write(body[half:])
	chunked.WriteString("\r\n0\r\n\r\n")

	head := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Encoding: gzip\r\n\r\n"

	p := httpparser.New(httpparser.RoleClient)
	done, err := p.Feed([]byte(head))
	require.NoError(t, err)
	require.False(t, done)

	done, err = p.Feed(chunked.Bytes())
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, `{"k":1}`, string(p.Message().Body()))
}

func hexLen(n int) string {
	return toHex(n) + "\r\n"
}

func toHex(n int) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%16]}, b...)
		n /= 16
	}
	return string(b)
}

func TestContentLengthAndChunkedIsError(t *testing.T) {
	p := httpparser.New(httpparser.RoleServer)
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	_, err := p.Feed([]byte(raw))
	require.Error(t, err)
}

// TestZeroContentLengthAndChunkedIsError covers the boundary case where
// Content-Length is explicitly zero: the header is still declared
// alongside chunked framing, which is as much a smuggling vector as a
// non-zero length, so it must also be rejected.
func TestZeroContentLengthAndChunkedIsError(t *testing.T) {
	p := httpparser.New(httpparser.RoleServer)
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\nTransfer-Encoding: chunked\r\n\r\n"
	_, err := p.Feed([]byte(raw))
	require.Error(t, err)
}

// buildExactHeaderBlock constructs a request whose full header block (start
// line through the terminating blank line) is exactly `total` bytes, using
// multiple filler header lines so no single line approaches the 16384-byte
// per-line limit.
func buildExactHeaderBlock(t *testing.T, total int) string {
	t.Helper()
	startLine := "GET / HTTP/1.1\r\n"
	hostLine := "Host: x\r\n"
	blank := "\r\n"
	remaining := total - len(startLine) - len(hostLine) - len(blank)

	var sb strings.Builder
	sb.WriteString(startLine)
	sb.WriteString(hostLine)

	const prefix, suffix = "X-Pad: ", "\r\n"
	const overhead = len(prefix) + len(suffix)
	const chunkPayload = 2000
	for remaining > overhead+chunkPayload {
		sb.WriteString(prefix)
		sb.WriteString(strings.Repeat("a", chunkPayload))
		sb.WriteString(suffix)
		remaining -= overhead + chunkPayload
	}
	lastPayload := remaining - overhead
	require.GreaterOrEqual(t, lastPayload, 0)
	sb.WriteString(prefix)
	sb.WriteString(strings.Repeat("a", lastPayload))
	sb.WriteString(suffix)
	sb.WriteString(blank)

	raw := sb.String()
	require.Len(t, raw, total)
	return raw
}

func TestHeaderExactlyAtLimitParses(t *testing.T) {
	raw := buildExactHeaderBlock(t, 65536)

	p := httpparser.New(httpparser.RoleServer)
	done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)
}

func TestHeaderOverLimitErrors(t *testing.T) {
	raw := buildExactHeaderBlock(t, 65537)

	p := httpparser.New(httpparser.RoleServer)
	_, err := p.Feed([]byte(raw))
	require.Error(t, err)
}

func TestHTTP10ImpliesClose(t *testing.T) {
	p := httpparser.New(httpparser.RoleClient)
	raw := "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)
	require.True(t, p.Message().ConnectionClose)
}

func TestStatus204WithBodyIsError(t *testing.T) {
	p := httpparser.New(httpparser.RoleClient)
	raw := "HTTP/1.1 204 No Content\r\nContent-Length: 3\r\n\r\nabc"
	_, err := p.Feed([]byte(raw))
	require.Error(t, err)
}

func TestObsoleteLineFolding(t *testing.T) {
	p := httpparser.New(httpparser.RoleServer)
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-Custom: first\r\n second\r\n\r\n"
	done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)

	v, ok := p.Message().HeaderValue("X-Custom")
	require.True(t, ok)
	require.Equal(t, "first", v)
	require.Equal(t, []string{"first", "second"}, p.Message().RawFields[0].Values)
}

func TestNonAsciiTargetRejected(t *testing.T) {
	p := httpparser.New(httpparser.RoleServer)
	raw := "GET /\xc3\xa9 HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := p.Feed([]byte(raw))
	require.Error(t, err)
}

func TestUntilCloseBodyCompletesOnEOF(t *testing.T) {
	p := httpparser.New(httpparser.RoleClient)
	head := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n"
	done, err := p.Feed([]byte(head))
	require.NoError(t, err)
	require.False(t, done)

	done, err = p.Feed([]byte("partial-body"))
	require.NoError(t, err)
	require.False(t, done)

	done, err = p.FeedEOF()
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "partial-body", string(p.Message().Body()))
}
