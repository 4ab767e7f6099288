package httpparser

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/WhileEndless/reactorhttp/pkg/bytebuf"
	"github.com/WhileEndless/reactorhttp/pkg/constants"
	"github.com/WhileEndless/reactorhttp/pkg/errors"
)

type state int

const (
	stateStartLine state = iota
	stateHeaders
	stateBody
	stateDone
)

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyEmpty
	bodyFixed
	bodyChunked
	bodyUntilClose
)

type chunkSubState int

const (
	chunkSize chunkSubState = iota
	chunkData
	chunkCRLF
	chunkTrailer
)

func parseErr(op, msg string) *errors.Error {
	return errors.NewKindError(errors.KindParseError, op, msg)
}

// Parser is a byte-fed streaming HTTP/1.x message parser. One Parser parses
// one message at a time; call Message() after Feed reports done, then Reset
// before parsing the next pipelined message.
type Parser struct {
	role  Role
	buf   *bytebuf.Buf
	pos   int
	state state

	headerLines     int
	headerTotalSize int

	msg         *Message
	lastRawIdx  int // index of most recent RawField, for continuation lines; -1 if none
	sawHost     bool
	sawCL       bool
	sawConn     bool
	sawUA       bool
	sawLoc      bool
	sawAE       bool
	sawCE       bool
	sawTE       bool

	mode           bodyMode
	fixedRemaining int64
	chunkSt        chunkSubState
	chunkRemaining int64
	bodyAcc        []byte

	untilCloseEOF bool

	expectConnectResponse bool
}

// New creates a Parser for the given role with a fresh internal buffer.
func New(role Role) *Parser {
	p := &Parser{role: role, buf: bytebuf.New(constants.ReadBufferInitSize)}
	p.Reset()
	return p
}

// Reset discards any in-progress message state so the Parser is ready to
// parse the next pipelined message. The internal buffer retains whatever
// unconsumed bytes remain after the prior message's end.
func (p *Parser) Reset() {
	p.buf.Cut(p.pos)
	p.pos = 0
	p.state = stateStartLine
	p.headerLines = 0
	p.headerTotalSize = 0
	p.msg = &Message{}
	p.lastRawIdx = -1
	p.sawHost, p.sawCL, p.sawConn, p.sawUA, p.sawLoc, p.sawAE, p.sawCE, p.sawTE = false, false, false, false, false, false, false, false
	p.mode = bodyNone
	p.fixedRemaining = 0
	p.chunkSt = chunkSize
	p.chunkRemaining = 0
	p.bodyAcc = nil
	p.untilCloseEOF = false
}

// ExpectConnectResponse tells a client-role Parser that the next response
// it parses answers a CONNECT request: a 2xx reply to CONNECT carries no
// body regardless of Content-Length/Transfer-Encoding framing (the
// connection becomes a raw tunnel immediately after the header block), so
// body-mode selection must not fall through to the "no body framing"
// error it would raise for an ordinary response.
func (p *Parser) ExpectConnectResponse() {
	p.expectConnectResponse = true
}

// Message returns the message built by the most recently completed Feed.
// Valid only after Feed has returned (true, nil).
func (p *Parser) Message() *Message { return p.msg }

// Feed appends newly received bytes and advances the parser. It returns
// (true, nil) when a full message has been parsed; the caller must then
// retrieve Message() and call Reset() before feeding further bytes (which
// may already be buffered, e.g. a pipelined second request).
func (p *Parser) Feed(data []byte) (bool, error) {
	if len(data) > 0 {
		p.buf.Append(data)
	}
	for {
		switch p.state {
		case stateStartLine:
			line, ok, err := p.scanLine("start_line")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			if err := p.parseStartLine(line); err != nil {
				return false, err
			}
			p.state = stateHeaders
		case stateHeaders:
			line, ok, err := p.scanLine("header_field")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			done, err := p.parseHeaderLine(line)
			if err != nil {
				return false, err
			}
			if done {
				if err := p.selectBodyMode(); err != nil {
					return false, err
				}
				p.state = stateBody
			}
		case stateBody:
			done, err := p.consumeBody()
			if err != nil {
				return false, err
			}
			if !done {
				return false, nil
			}
			p.state = stateDone
		case stateDone:
			if err := p.finalize(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
}

// FeedEOF notifies the parser that the peer half-closed the connection,
// which is the only way a body-until-close message can complete.
func (p *Parser) FeedEOF() (bool, error) {
	p.untilCloseEOF = true
	if p.state == stateBody && p.mode == bodyUntilClose {
		return p.Feed(nil)
	}
	if p.state == stateStartLine && p.pos >= p.buf.Used() {
		// No bytes at all for a new message: a clean close, not an error.
		return false, nil
	}
	return false, parseErr("feed_eof", "connection closed mid-message")
}

// scanLine returns the next complete line (CRLF or bare-LF terminated, CR
// excluded) starting at the current cursor, or ok=false if more bytes are
// needed. Enforces the max-line-length limit both on complete and
// in-progress lines.
func (p *Parser) scanLine(op string) ([]byte, bool, error) {
	used := p.buf.UsedBytes()
	lineStart := p.pos
	countsTowardHeaderTotal := p.state == stateStartLine || p.state == stateHeaders
	for i := p.pos; i < len(used); i++ {
		if used[i] == '\n' {
			lineEnd := i
			if lineEnd > lineStart && used[lineEnd-1] == '\r' {
				lineEnd--
			}
			line := used[lineStart:lineEnd]
			if len(line) > constants.MaxHeaderLineLen {
				return nil, false, parseErr(op, "header line exceeds max length")
			}
			p.pos = i + 1
			if countsTowardHeaderTotal {
				p.headerTotalSize += (i + 1) - lineStart
				if p.headerTotalSize > constants.MaxHeaderTotal {
					return nil, false, parseErr(op, "total header size exceeds limit")
				}
			}
			return line, true, nil
		}
	}
	if len(used)-lineStart > constants.MaxHeaderLineLen {
		return nil, false, parseErr(op, "header line exceeds max length")
	}
	return nil, false, nil
}

func (p *Parser) parseStartLine(line []byte) error {
	if p.role == RoleClient {
		return p.parseStatusLine(line)
	}
	return p.parseRequestLine(line)
}

func (p *Parser) parseStatusLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return parseErr("status_line", "malformed status line")
	}
	version := string(parts[0])
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return parseErr("status_line", "unsupported HTTP version")
	}
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil || code < 100 || code > 599 {
		return parseErr("status_line", "invalid status code")
	}
	p.msg.Version = version
	p.msg.StatusCode = code
	if version == "HTTP/1.0" {
		p.msg.ConnectionClose = true
	}
	return nil
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "OPTIONS": true, "CONNECT": true,
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func (p *Parser) parseRequestLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return parseErr("request_line", "malformed request line")
	}
	method := string(parts[0])
	target := parts[1]
	version := string(parts[2])

	if !allowedMethods[method] {
		return parseErr("request_line", "unsupported method")
	}
	if len(target) == 0 || !isPrintableASCII(target) {
		return parseErr("request_line", "target must be non-empty printable ASCII")
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return parseErr("request_line", "unsupported HTTP version")
	}

	p.msg.Method = method
	p.msg.Target = string(target)
	p.msg.Version = version
	p.msg.IsOptionsMethod = method == "OPTIONS"
	p.msg.IsConnectMethod = method == "CONNECT"
	if version == "HTTP/1.0" {
		p.msg.ConnectionClose = true
	}
	return nil
}

func trimOWS(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}

// parseHeaderLine processes one header-section line, returning done=true
// when the line is the empty line terminating the header block.
func (p *Parser) parseHeaderLine(line []byte) (bool, error) {
	if len(line) == 0 {
		return true, nil
	}

	p.headerLines++
	if p.headerLines > constants.MaxHeaderLines {
		return false, parseErr("header_field", "too many header lines")
	}

	if line[0] == ' ' || line[0] == '\t' {
		if p.lastRawIdx < 0 {
			return false, parseErr("header_field", "continuation line with no prior field")
		}
		value := string(trimOWS(line))
		p.msg.RawFields[p.lastRawIdx].Values = append(p.msg.RawFields[p.lastRawIdx].Values, value)
		return false, nil
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false, parseErr("header_field", "missing colon in header field")
	}
	key := string(line[:colon])
	value := string(trimOWS(line[colon+1:]))

	switch {
	case equalFold(key, "Host"):
		if p.sawHost {
			return false, parseErr("header_field", "duplicate Host header")
		}
		p.sawHost = true
		p.msg.Host = value
	case equalFold(key, "Content-Length"):
		if p.sawCL {
			return false, parseErr("header_field", "duplicate Content-Length header")
		}
		p.sawCL = true
		digits := strings.ReplaceAll(value, " ", "")
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n < 0 {
			return false, parseErr("header_field", "invalid Content-Length")
		}
		p.msg.HasContentLength = true
		p.msg.ContentLength = n
	case equalFold(key, "Connection"):
		if p.sawConn {
			return false, parseErr("header_field", "duplicate Connection header")
		}
		p.sawConn = true
		p.msg.Connection = value
		if equalFold(strings.TrimSpace(value), "close") {
			p.msg.ConnectionClose = true
		}
	case equalFold(key, "User-Agent"):
		if p.sawUA {
			return false, parseErr("header_field", "duplicate User-Agent header")
		}
		p.sawUA = true
		p.msg.UserAgent = value
	case equalFold(key, "Location"):
		if p.sawLoc {
			return false, parseErr("header_field", "duplicate Location header")
		}
		p.sawLoc = true
		p.msg.Location = value
	case equalFold(key, "Accept-Encoding"):
		if p.sawAE {
			return false, parseErr("header_field", "duplicate Accept-Encoding header")
		}
		p.sawAE = true
		p.msg.AcceptEncoding = value
	case equalFold(key, "Content-Encoding"):
		if p.sawCE {
			return false, parseErr("header_field", "duplicate Content-Encoding header")
		}
		p.sawCE = true
		p.msg.ContentEncoding = value
	case equalFold(key, "Transfer-Encoding"):
		if p.sawTE {
			return false, parseErr("header_field", "duplicate Transfer-Encoding header")
		}
		p.sawTE = true
		p.msg.TransferEncoding = value
		if strings.Contains(strings.ToLower(value), "chunked") {
			p.msg.ChunkedTransferEncoding = true
		}
	default:
		p.msg.RawFields = append(p.msg.RawFields, RawField{Key: key, Values: []string{value}})
		p.lastRawIdx = len(p.msg.RawFields) - 1
	}

	return false, nil
}

func (p *Parser) selectBodyMode() error {
	m := p.msg
	if m.HasContentLength && m.ChunkedTransferEncoding {
		return parseErr("select_body", "both Content-Length and chunked transfer present")
	}

	if p.role == RoleClient {
		if p.expectConnectResponse {
			p.expectConnectResponse = false
			if m.StatusCode >= 200 && m.StatusCode < 300 {
				p.mode = bodyEmpty
				return nil
			}
		}
		if m.StatusCode < 200 || m.StatusCode == 204 || m.StatusCode == 304 {
			if m.HasContentLength && m.ContentLength > 0 {
				return parseErr("select_body", "body not allowed for this status code")
			}
			p.mode = bodyEmpty
			return nil
		}
		switch {
		case m.HasContentLength:
			p.mode = bodyFixed
			p.fixedRemaining = m.ContentLength
		case m.ChunkedTransferEncoding:
			p.mode = bodyChunked
		case m.ConnectionClose:
			p.mode = bodyUntilClose
		default:
			return parseErr("select_body", "response has no body framing")
		}
		return nil
	}

	// Server role.
	switch {
	case m.HasContentLength:
		p.mode = bodyFixed
		p.fixedRemaining = m.ContentLength
	case m.ChunkedTransferEncoding:
		p.mode = bodyChunked
	default:
		if m.ConnectionClose {
			return parseErr("select_body", "request has no body framing and closes connection")
		}
		p.mode = bodyEmpty
	}
	return nil
}

func (p *Parser) consumeBody() (bool, error) {
	switch p.mode {
	case bodyEmpty:
		return true, nil
	case bodyFixed:
		return p.consumeFixed()
	case bodyChunked:
		return p.consumeChunked()
	case bodyUntilClose:
		used := p.buf.UsedBytes()
		if p.pos < len(used) {
			p.bodyAcc = append(p.bodyAcc, used[p.pos:]...)
			p.pos = len(used)
		}
		return p.untilCloseEOF, nil
	default:
		return true, nil
	}
}

func (p *Parser) consumeFixed() (bool, error) {
	used := p.buf.UsedBytes()
	avail := len(used) - p.pos
	if avail <= 0 {
		return p.fixedRemaining == 0, nil
	}
	take := int64(avail)
	if take > p.fixedRemaining {
		take = p.fixedRemaining
	}
	p.bodyAcc = append(p.bodyAcc, used[p.pos:p.pos+int(take)]...)
	p.pos += int(take)
	p.fixedRemaining -= take
	return p.fixedRemaining == 0, nil
}

func (p *Parser) consumeChunked() (bool, error) {
	for {
		switch p.chunkSt {
		case chunkSize:
			line, ok, err := p.scanLine("chunk_size")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			size, err := parseChunkSizeLine(line)
			if err != nil {
				return false, err
			}
			if size == 0 {
				p.chunkSt = chunkTrailer
				continue
			}
			p.chunkRemaining = size
			p.chunkSt = chunkData
		case chunkData:
			used := p.buf.UsedBytes()
			avail := len(used) - p.pos
			if avail <= 0 {
				return false, nil
			}
			take := int64(avail)
			if take > p.chunkRemaining {
				take = p.chunkRemaining
			}
			p.bodyAcc = append(p.bodyAcc, used[p.pos:p.pos+int(take)]...)
			p.pos += int(take)
			p.chunkRemaining -= take
			if p.chunkRemaining > 0 {
				return false, nil
			}
			p.chunkSt = chunkCRLF
		case chunkCRLF:
			line, ok, err := p.scanLine("chunk_crlf")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			if len(line) != 0 {
				return false, parseErr("chunk_crlf", "expected CRLF after chunk data")
			}
			p.chunkSt = chunkSize
		case chunkTrailer:
			line, ok, err := p.scanLine("chunk_trailer")
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			if len(line) == 0 {
				return true, nil
			}
			// Trailer header lines are accepted but discarded.
		}
	}
}

// parseChunkSizeLine parses a chunk-size line (hex digits, optional ";ext",
// no stray whitespace before the terminator — malformed preludes are
// rejected rather than tolerated).
func parseChunkSizeLine(line []byte) (int64, error) {
	hex := line
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		hex = line[:i]
	}
	if len(hex) == 0 {
		return 0, parseErr("chunk_size", "empty chunk size")
	}
	for _, c := range hex {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return 0, parseErr("chunk_size", "malformed chunk size prelude")
		}
	}
	n, err := strconv.ParseInt(string(hex), 16, 64)
	if err != nil || n < 0 {
		return 0, parseErr("chunk_size", "invalid chunk size")
	}
	return n, nil
}

func (p *Parser) finalize() error {
	p.msg.RawBody = p.bodyAcc
	if len(p.bodyAcc) > 0 && equalFold(strings.TrimSpace(p.msg.ContentEncoding), "gzip") {
		decoded, err := inflateGzip(p.bodyAcc)
		if err != nil {
			return parseErr("gzip", "gzip inflate failed: "+err.Error())
		}
		p.msg.DecodedBody = decoded
	}
	return nil
}

func inflateGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, 0, len(data)*constants.GzipCoefficient)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return out, nil
}
