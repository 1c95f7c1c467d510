// Package transport provides the server's two client-facing listener
// kinds: plain TCP and WebSocket. Both yield the same io.ReadWriteCloser
// abstraction so the router only ever deals with one connection type: a
// single newline-delimited JSON stream per client, with no multiplexing
// to worry about.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Conn is a single client connection: bytes in, bytes out, a remote
// address for IPFilter and rate-limiting lookups, and deadlines for the
// idle/read timeouts in the server's concurrency model.
type Conn interface {
	net.Conn
}

// Listener accepts Conns from a single bind address.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// TCPListener wraps a plain net.Listener; its Accept already returns
// net.Conn, which satisfies Conn directly.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr for plain TCP connections.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp: %w", err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept waits for the next TCP connection, honoring ctx cancellation by
// racing it against a background Accept goroutine.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *TCPListener) Close() error { return l.ln.Close() }

// WebSocketListener upgrades HTTP connections on a single path to
// WebSocket and hands each one back as a Conn via websocket.NetConn,
// which adapts the message-oriented WebSocket connection to net.Conn
// using binary messages as the byte stream.
type WebSocketListener struct {
	addr      string
	path      string
	tlsConfig *tls.Config

	server *http.Server
	netLn  net.Listener

	mu      sync.Mutex
	closed  bool
	connCh  chan Conn
	closeCh chan struct{}
}

// WebSocketListenOptions configures a WebSocketListener.
type WebSocketListenOptions struct {
	Path      string // defaults to "/justirc"
	TLSConfig *tls.Config
}

// ListenWebSocket binds addr and upgrades incoming HTTP requests on
// opts.Path to WebSocket connections.
func ListenWebSocket(addr string, opts WebSocketListenOptions) (*WebSocketListener, error) {
	path := opts.Path
	if path == "" {
		path = "/justirc"
	}

	l := &WebSocketListener{
		addr:      addr,
		path:      path,
		tlsConfig: opts.TLSConfig,
		connCh:    make(chan Conn, 16),
		closeCh:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Addr: addr, Handler: mux, TLSConfig: opts.TLSConfig}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen ws: %w", err)
	}
	l.netLn = ln

	go func() {
		if opts.TLSConfig != nil {
			l.server.ServeTLS(ln, "", "")
		} else {
			l.server.Serve(ln)
		}
	}()

	return l, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	conn := websocket.NetConn(r.Context(), c, websocket.MessageBinary)

	select {
	case l.connCh <- conn:
	case <-l.closeCh:
		c.Close(websocket.StatusGoingAway, "server closed")
	}
}

// Accept waits for and returns the next upgraded WebSocket connection.
func (l *WebSocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, fmt.Errorf("transport: listener closed")
	}
}

// Addr returns the bound address.
func (l *WebSocketListener) Addr() net.Addr {
	if l.netLn != nil {
		return l.netLn.Addr()
	}
	return nil
}

// Close shuts down the HTTP server and stops accepting connections.
func (l *WebSocketListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.closeCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}
