// Package httpconn layers the HTTP/1.x message pipeline on top of a raw
// reactor connection: it feeds bytes into an httpparser.Parser, matches
// completed messages to pending requests in flight order, arms a
// response-timeout watchdog per in-flight message, and switches a
// connection to opaque tunneling once a CONNECT exchange succeeds.
// Grounded on original_source/core/http_internal.h's
// http_messages_queue_elt_t (the pipeline queue entry) and spec §4.9's
// client/server role tables.
package httpconn

import (
	"crypto/tls"
	"time"

	"github.com/WhileEndless/reactorhttp/pkg/buffer"
	"github.com/WhileEndless/reactorhttp/pkg/constants"
	rherrors "github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/httpencoder"
	"github.com/WhileEndless/reactorhttp/pkg/httpparser"
	"github.com/WhileEndless/reactorhttp/pkg/list"
	"github.com/WhileEndless/reactorhttp/pkg/reactor"
	"github.com/WhileEndless/reactorhttp/pkg/timerwheel"
	"github.com/WhileEndless/reactorhttp/pkg/timing"
)

// pipelineEntry is one request awaiting its response (client role) or one
// request awaiting a handler-produced response (server role). On the
// server role, response and responded track whether the handler has
// produced a reply yet; entries drain in arrival order regardless of the
// order handlers actually finish in (spec §4.9's server pipeline queue).
type pipelineEntry struct {
	msg      *httpparser.Message
	timing   *timing.PipelineEntry
	deadline timerwheel.Handle

	responded bool
	response  []byte
}

// RequestID is an opaque handle to one server-role pipeline entry, handed
// to OnMessage and required by SendResponse. It exists so a handler can
// answer requests out of order (e.g. a CONNECT dial that resolves after a
// later request's handler has already returned) while SendResponse still
// enforces arrival order on the wire. The zero value is only meaningful
// for the client role, which doesn't use it.
type RequestID struct {
	entry *pipelineEntry
}

// Callbacks are the message-level hooks an owner supplies, above the raw
// byte-level reactor.Callbacks.
type Callbacks struct {
	// OnMessage fires once per completed request/response, in pipeline
	// order. For a CONNECT request that the handler accepts, the handler
	// should call SwitchToTunnel before returning. On the server role, id
	// must be passed back to SendResponse for this request.
	OnMessage func(hc *HTTPConn, id RequestID, msg *httpparser.Message) error
	// OnTunnelData fires with raw bytes once a connection has switched to
	// tunneling mode, bypassing the HTTP parser entirely.
	OnTunnelData func(hc *HTTPConn, data []byte) error
	// OnResponseTimeout fires when a request's response-timeout watchdog
	// expires without a matching message having arrived. waited is how
	// long the request sat in the pipeline before the watchdog fired.
	OnResponseTimeout func(hc *HTTPConn, msg *httpparser.Message, waited time.Duration)
	// OnClosed mirrors reactor.Callbacks.OnClosed.
	OnClosed func(hc *HTTPConn, code reactor.CloseCode, err error)
}

// HTTPConn is one HTTP/1.x connection: a reactor.Conn plus a parser, an
// in-flight pipeline queue, and CONNECT-tunneling state.
type HTTPConn struct {
	r    *reactor.Reactor
	h    reactor.Handle
	role httpparser.Role

	parser   *httpparser.Parser
	pipeline *list.List[*pipelineEntry]

	responseTimeout time.Duration
	tunneling       bool

	cb Callbacks
}

// Register wraps an already-accepted or already-connected fd as an
// HTTP/1.x pipeline connection. role determines which start-line grammar
// the parser expects (RoleClient reads responses, RoleServer reads
// requests).
func Register(r *reactor.Reactor, fd int, dir reactor.Direction, role httpparser.Role, responseTimeout time.Duration, cb Callbacks) (*HTTPConn, error) {
	hc := &HTTPConn{
		r:               r,
		role:            role,
		parser:          httpparser.New(role),
		pipeline:        list.New[*pipelineEntry](),
		responseTimeout: responseTimeout,
		cb:              cb,
	}
	h, err := r.Register(fd, dir, reactor.StateEstablished, reactor.Callbacks{
		OnReadable: hc.onReadable,
		OnClosed: func(rt *reactor.Reactor, rh reactor.Handle, code reactor.CloseCode, cerr error) {
			if hc.cb.OnClosed != nil {
				hc.cb.OnClosed(hc, code, cerr)
			}
		},
	}, false)
	if err != nil {
		return nil, err
	}
	hc.h = h
	return hc, nil
}

// RegisterTLS wraps an fd that must complete a TLS handshake before HTTP
// framing can begin, driving the handshake through reactor.RegisterTLSServer
// (dir == DirIncoming) or reactor.RegisterTLSClient (dir == DirOutgoing).
// Once the handshake completes, the connection behaves exactly like one
// registered via Register: reads and writes route through the TLS adapter
// transparently, invisible to this package's framing logic.
func RegisterTLS(r *reactor.Reactor, fd int, dir reactor.Direction, role httpparser.Role, tlsCfg *tls.Config, tlsEstablishTimeout, responseTimeout time.Duration, cb Callbacks) (*HTTPConn, error) {
	hc := &HTTPConn{
		r:               r,
		role:            role,
		parser:          httpparser.New(role),
		pipeline:        list.New[*pipelineEntry](),
		responseTimeout: responseTimeout,
		cb:              cb,
	}
	rcb := reactor.Callbacks{
		OnReadable: hc.onReadable,
		OnClosed: func(rt *reactor.Reactor, rh reactor.Handle, code reactor.CloseCode, cerr error) {
			if hc.cb.OnClosed != nil {
				hc.cb.OnClosed(hc, code, cerr)
			}
		},
	}

	var h reactor.Handle
	var err error
	if dir == reactor.DirIncoming {
		h, err = reactor.RegisterTLSServer(r, fd, tlsCfg, tlsEstablishTimeout, rcb)
	} else {
		h, err = reactor.RegisterTLSClient(r, fd, tlsCfg, tlsEstablishTimeout, rcb)
	}
	if err != nil {
		return nil, err
	}
	hc.h = h
	return hc, nil
}

// Adopt wraps an already-registered, already-established reactor.Handle as
// an HTTP/1.x pipeline connection, without registering the fd with the
// reactor a second time. Used when a lower layer already owns the
// registration — e.g. a raw outgoing connect driven through
// reactor.ConnectOutgoing whose OnEstablished hook is ready to hand the
// connection up to the HTTP layer once the non-blocking connect finishes.
func Adopt(r *reactor.Reactor, h reactor.Handle, role httpparser.Role, responseTimeout time.Duration, cb Callbacks) (*HTTPConn, error) {
	hc := &HTTPConn{
		r:               r,
		h:               h,
		role:            role,
		parser:          httpparser.New(role),
		pipeline:        list.New[*pipelineEntry](),
		responseTimeout: responseTimeout,
		cb:              cb,
	}
	if err := r.Rebind(h, reactor.Callbacks{
		OnReadable: hc.onReadable,
		OnClosed: func(rt *reactor.Reactor, rh reactor.Handle, code reactor.CloseCode, cerr error) {
			if hc.cb.OnClosed != nil {
				hc.cb.OnClosed(hc, code, cerr)
			}
		},
	}); err != nil {
		return nil, err
	}
	return hc, nil
}

// Handle returns the underlying reactor handle.
func (hc *HTTPConn) Handle() reactor.Handle { return hc.h }

// SwitchToTunnel permanently switches the connection to opaque byte relay
// (§4.9's post-CONNECT behavior): the HTTP parser stops running and every
// subsequent OnReadable delivers raw bytes via OnTunnelData.
func (hc *HTTPConn) SwitchToTunnel() {
	hc.tunneling = true
}

// Tunneling reports whether this connection has switched to raw relay.
func (hc *HTTPConn) Tunneling() bool { return hc.tunneling }

// SendRequest encodes and enqueues an HTTP request (client role), pushing
// a pipeline entry and arming its response-timeout watchdog.
func (hc *HTTPConn) SendRequest(msg *httpparser.Message) error {
	if hc.role != httpparser.RoleClient {
		return rherrors.NewKindError(rherrors.KindWrongConn, "httpconn.SendRequest", "not a client connection")
	}
	raw, err := httpencoder.EncodeRequest(msg)
	if err != nil {
		return err
	}
	if err := hc.r.Enqueue(hc.h, raw); err != nil {
		return err
	}
	if msg.IsConnectMethod || msg.Method == "CONNECT" {
		hc.parser.ExpectConnectResponse()
	}
	return hc.pushPending(msg)
}

// SendResponse encodes a response for the request identified by id (server
// role). The encoded bytes are only written to the wire once every earlier
// request in the pipeline has also been answered, so replies always leave
// in arrival order even if handlers finish out of order.
func (hc *HTTPConn) SendResponse(id RequestID, msg *httpparser.Message) error {
	if hc.role != httpparser.RoleServer {
		return rherrors.NewKindError(rherrors.KindWrongConn, "httpconn.SendResponse", "not a server connection")
	}
	if id.entry == nil {
		return rherrors.NewKindError(rherrors.KindWrongParams, "httpconn.SendResponse", "missing request id")
	}
	raw, err := httpencoder.EncodeResponse(msg)
	if err != nil {
		return err
	}
	id.entry.response = raw
	id.entry.responded = true
	return hc.drainServerResponses()
}

// drainServerResponses writes every answered entry at the front of the
// pipeline to the wire, stopping at the first entry still awaiting its
// handler's reply.
func (hc *HTTPConn) drainServerResponses() error {
	for {
		front, ok := hc.pipeline.Front()
		if !ok || !front.responded {
			return nil
		}
		hc.pipeline.PopFront()
		if err := hc.r.Enqueue(hc.h, front.response); err != nil {
			return err
		}
	}
}

// SendRaw writes bytes directly, bypassing the HTTP encoder. Used for
// tunneled relay traffic once SwitchToTunnel has been called.
func (hc *HTTPConn) SendRaw(data []byte) error {
	return hc.r.Enqueue(hc.h, data)
}

func (hc *HTTPConn) pushPending(msg *httpparser.Message) error {
	conn, err := hc.r.Conn(hc.h)
	if err != nil {
		return err
	}
	entry := &pipelineEntry{msg: msg, timing: timing.NewPipelineEntry()}
	if hc.responseTimeout > 0 {
		dh, terr := conn.Timers().Schedule(hc.responseTimeout, func(timerwheel.Handle, time.Time) {
			hc.handleResponseTimeout(entry)
		})
		if terr != nil {
			return terr
		}
		entry.deadline = dh
	}
	hc.pipeline.PushBack(entry)
	return nil
}

func (hc *HTTPConn) handleResponseTimeout(entry *pipelineEntry) {
	hc.pipeline.EachHandle(func(h list.Handle[*pipelineEntry], v *pipelineEntry) {
		if v == entry {
			hc.pipeline.Remove(h)
		}
	})
	if hc.cb.OnResponseTimeout != nil {
		hc.cb.OnResponseTimeout(hc, entry.msg, entry.timing.Waited())
	}
}

func (hc *HTTPConn) popPending() *pipelineEntry {
	front, ok := hc.pipeline.Front()
	if !ok {
		return nil
	}
	hc.pipeline.PopFront()
	if conn, err := hc.r.Conn(hc.h); err == nil {
		conn.Timers().Cancel(front.deadline)
	}
	return front
}

// onReadable is the reactor read callback: pulls bytes off the socket into
// the connection's read buffer, then either relays them raw (tunneling) or
// feeds the parser and dispatches every completed message in order.
func (hc *HTTPConn) onReadable(r *reactor.Reactor, h reactor.Handle) error {
	conn, err := r.Conn(h)
	if err != nil {
		return err
	}

	buf := conn.ReadBuf()
	buf.EnsureRemainder(constants.ReadBufferInitSize, constants.ReadBufferInitSize)
	n, rerr := readSocket(conn, buf.RemainderBytes())
	if n > 0 {
		buf.IncreaseUsed(n)
	}

	if hc.tunneling {
		if n > 0 && hc.cb.OnTunnelData != nil {
			data := append([]byte(nil), buf.UsedBytes()...)
			buf.Reset()
			if cerr := hc.cb.OnTunnelData(hc, data); cerr != nil {
				return cerr
			}
		}
		return rerr
	}

	if n > 0 {
		// The parser owns its own internal buffer (offsets are scanned
		// against it directly), so the reactor's read buffer is only a
		// socket-read scratch area: hand the freshly read bytes over and
		// clear it immediately.
		fresh := append([]byte(nil), buf.UsedBytes()...)
		buf.Reset()

		done, ferr := hc.parser.Feed(fresh)
		if ferr != nil {
			return ferr
		}
		for done {
			if derr := hc.dispatchMessage(); derr != nil {
				return derr
			}
			if hc.tunneling {
				break
			}
			hc.parser.Reset()
			done, ferr = hc.parser.Feed(nil)
			if ferr != nil {
				return ferr
			}
		}
	}
	return rerr
}

func readSocket(conn *reactor.Conn, p []byte) (int, error) {
	return conn.Read(p)
}

// dispatchMessage hands the just-completed message to the owner. On the
// client role it pops the matching pending entry immediately, since the
// response has already fully arrived. On the server role it instead pushes
// a fresh pipeline entry for the request and hands the handler a RequestID
// tied to that entry, so SendResponse can enforce arrival-order draining
// even if this handler's reply arrives after a later request's.
func (hc *HTTPConn) dispatchMessage() error {
	msg := hc.parser.Message()
	var id RequestID
	if hc.role == httpparser.RoleClient {
		hc.popPending()
	} else {
		entry := &pipelineEntry{msg: msg}
		hc.pipeline.PushBack(entry)
		id = RequestID{entry: entry}
	}
	if hc.cb.OnMessage != nil {
		return hc.cb.OnMessage(hc, id, msg)
	}
	return nil
}

// BufferedBody wraps msg's fully decoded body (§4.1b) in a buffer.Buffer,
// spilling to a temp file if it already exceeds constants.DefaultBodyMemLimit.
// A handler that wants to stream or re-read a large body without holding it
// as a live []byte calls this instead of msg.Body() directly.
func (hc *HTTPConn) BufferedBody(msg *httpparser.Message) (*buffer.Buffer, error) {
	return buffer.FromBody(msg.Body(), constants.DefaultBodyMemLimit)
}
