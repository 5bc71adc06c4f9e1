// Package transport defines the byte-stream collaborator contract from
// spec.md §6 and provides one concrete implementation over net.Conn/tls.Conn
// plus STARTTLS upgrade. The protocol stacks in this module never depend on
// net.Conn directly — only on the Transport interface — so that tests can
// substitute an in-memory pipe.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"mailstack/internal/protoerr"
)

// Transport is the external collaborator spec.md §6 describes: an opaque,
// cancellable byte producer/consumer that preserves byte order and never
// duplicates bytes.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, b []byte) error
	// Incoming delivers chunks read from the wire. The channel is closed
	// when the transport stops, with the terminal error (if any) available
	// from Err after the channel closes.
	Incoming() <-chan []byte
	Err() error
	// StartTLS upgrades an already-connected plaintext transport in place.
	// Transports that cannot upgrade (e.g. already TLS, or UDP-backed)
	// return protoerr.ErrTLS wrapped with detail.
	StartTLS(ctx context.Context, cfg *tls.Config) error
}

// Conn adapts a net.Conn (plain or *tls.Conn) into a Transport, with an
// optional STARTTLS upgrade for protocols that negotiate TLS mid-session.
type Conn struct {
	mu       sync.Mutex
	conn     net.Conn
	incoming chan []byte
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// Dial connects to addr (host:port) either in the clear or via TLS
// depending on useTLS, and starts the background read loop.
func Dial(ctx context.Context, addr string, useTLS bool, cfg *tls.Config) (*Conn, error) {
	d := &net.Dialer{}
	var nc net.Conn
	var err error
	if useTLS {
		tc := cfg
		if tc == nil {
			tc = &tls.Config{}
		}
		nc, err = tls.DialWithDialer(d, "tcp", addr, tc)
	} else {
		nc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protoerr.ErrIO, addr, err)
	}
	c := &Conn{conn: nc}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConn wraps an already-established net.Conn (e.g. from net.Pipe in
// tests) without dialing.
func NewConn(nc net.Conn) *Conn {
	return &Conn{conn: nc}
}

func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming != nil {
		return nil
	}
	c.incoming = make(chan []byte, 64)
	c.done = make(chan struct{})
	go c.readLoop()
	return nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.incoming <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.mu.Lock()
			c.err = classifyReadErr(err)
			c.mu.Unlock()
			close(c.incoming)
			return
		}
	}
}

func classifyReadErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", protoerr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", protoerr.ErrIO, err)
}

func (c *Conn) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) Send(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	_, err := c.conn.Write(b)
	if err != nil {
		return fmt.Errorf("%w: write: %v", protoerr.ErrIO, err)
	}
	return nil
}

func (c *Conn) Incoming() <-chan []byte { return c.incoming }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// StartTLS upgrades the connection to TLS in place (RFC 2595 / IMAP
// STARTTLS / SMTP STARTTLS / POP3 STLS). The caller must have already
// completed the plaintext negotiation (the STARTTLS command and its OK
// response) before calling this.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conn.(*tls.Conn); ok {
		return fmt.Errorf("%w: already TLS", protoerr.ErrTLS)
	}

	// Stop the plaintext read loop before swapping the underlying conn so
	// the old goroutine doesn't race the TLS handshake reads.
	if c.done != nil {
		close(c.done)
	}

	tc := cfg
	if tc == nil {
		tc = &tls.Config{}
	}
	tlsConn := tls.Client(c.conn, tc)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: handshake: %v", protoerr.ErrTLS, err)
	}
	c.conn = tlsConn
	c.incoming = make(chan []byte, 64)
	c.done = make(chan struct{})
	c.stopOnce = sync.Once{}
	go c.readLoop()
	return nil
}

// Deadline builds a context with the given timeout, or a cancellable child
// of parent without a deadline if d is zero or negative.
func Deadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
